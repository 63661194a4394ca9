package signer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"reflect"
	"sort"
	"strconv"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

var (
	stringTy  = mustABIType("string")
	addressTy = mustABIType("address")
	uint256Ty = mustABIType("uint256")

	// (string json, address user, address signer, uint256 nonce)
	agentMessageArgs = abi.Arguments{
		{Type: stringTy},
		{Type: addressTy},
		{Type: addressTy},
		{Type: uint256Ty},
	}
)

func mustABIType(t string) abi.Type {
	ty, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return ty
}

// MessageHash is keccak256(abi.encode(json, user, signer, nonce)).
func MessageHash(jsonPayload string, user, signer common.Address, nonce int64) (common.Hash, error) {
	encoded, err := agentMessageArgs.Pack(jsonPayload, user, signer, big.NewInt(nonce))
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(encoded), nil
}

// PersonalDigest applies the EIP-191 "\x19Ethereum Signed Message:\n32"
// prefix to a message hash.
func PersonalDigest(hash common.Hash) []byte {
	return accounts.TextHash(hash.Bytes())
}

// canonicalJSON renders a flat string map with sorted keys and no
// whitespace. HTML escaping is off so '<', '>' and '&' stay literal.
func canonicalJSON(fields map[string]string) (string, error) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeJSONString(&buf, k); err != nil {
			return "", err
		}
		buf.WriteByte(':')
		if err := writeJSONString(&buf, fields[k]); err != nil {
			return "", err
		}
	}
	buf.WriteByte('}')
	return buf.String(), nil
}

func writeJSONString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	buf.Write(bytes.TrimRight(tmp.Bytes(), "\n"))
	return nil
}

// compactJSON serialises nested values for the agent scheme, which needs
// every top-level value flattened to a string.
func compactJSON(v any) (string, error) {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return string(bytes.TrimRight(tmp.Bytes(), "\n")), nil
}

func stringify(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case decimal.Decimal:
		return t.String(), nil
	case *decimal.Decimal:
		return t.String(), nil
	case bool:
		return strconv.FormatBool(t), nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case int32:
		return strconv.FormatInt(int64(t), 10), nil
	case uint64:
		return strconv.FormatUint(t, 10), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case fmt.Stringer:
		return t.String(), nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		return compactJSON(v)
	case reflect.String:
		return rv.String(), nil
	}
	return fmt.Sprint(v), nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

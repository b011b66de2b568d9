package store

import (
	"bytes"
	"encoding/base64"
	"encoding/gob"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Attribute maps are persisted through a tagged intermediate form so both
// gob and JSON can round trip every attribute value kind.

// EncodeItem serializes an item with gob. Used by binary stores.
func EncodeItem(item Item) ([]byte, error) {
	serializable, err := toSerializableMap(item)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(serializable); err != nil {
		return nil, fmt.Errorf("encode item: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeItem reverses EncodeItem.
func DecodeItem(data []byte) (Item, error) {
	var serializable map[string]serializableAV
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&serializable); err != nil {
		return nil, fmt.Errorf("decode item: %w", err)
	}
	item := make(Item, len(serializable))
	for k, v := range serializable {
		av, err := fromSerializable(v)
		if err != nil {
			return nil, fmt.Errorf("decode attribute %q: %w", k, err)
		}
		item[k] = av
	}
	return item, nil
}

// EncodeItemJSON serializes an item as JSON. Used by the SQLite store so
// rows stay readable with the sqlite3 shell.
func EncodeItemJSON(item Item) ([]byte, error) {
	serializable, err := toSerializableMap(item)
	if err != nil {
		return nil, err
	}
	return json.Marshal(serializable)
}

// DecodeItemJSON reverses EncodeItemJSON.
func DecodeItemJSON(data []byte) (Item, error) {
	var serializable map[string]jsonAV
	if err := json.Unmarshal(data, &serializable); err != nil {
		return nil, fmt.Errorf("decode item: %w", err)
	}
	item := make(Item, len(serializable))
	for k, v := range serializable {
		av, err := v.attributeValue()
		if err != nil {
			return nil, fmt.Errorf("decode attribute %q: %w", k, err)
		}
		item[k] = av
	}
	return item, nil
}

type serializableAV struct {
	Type  string
	Value any
}

func init() {
	gob.Register(map[string]serializableAV{})
	gob.Register([]serializableAV{})
	gob.Register([]string{})
	gob.Register([][]byte{})
}

func toSerializableMap(item Item) (map[string]serializableAV, error) {
	out := make(map[string]serializableAV, len(item))
	for k, v := range item {
		s, err := toSerializable(v)
		if err != nil {
			return nil, fmt.Errorf("encode attribute %q: %w", k, err)
		}
		out[k] = s
	}
	return out, nil
}

func toSerializable(av types.AttributeValue) (serializableAV, error) {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return serializableAV{Type: "S", Value: v.Value}, nil
	case *types.AttributeValueMemberN:
		return serializableAV{Type: "N", Value: v.Value}, nil
	case *types.AttributeValueMemberB:
		return serializableAV{Type: "B", Value: v.Value}, nil
	case *types.AttributeValueMemberBOOL:
		return serializableAV{Type: "BOOL", Value: v.Value}, nil
	case *types.AttributeValueMemberNULL:
		return serializableAV{Type: "NULL", Value: v.Value}, nil
	case *types.AttributeValueMemberSS:
		return serializableAV{Type: "SS", Value: v.Value}, nil
	case *types.AttributeValueMemberNS:
		return serializableAV{Type: "NS", Value: v.Value}, nil
	case *types.AttributeValueMemberBS:
		return serializableAV{Type: "BS", Value: v.Value}, nil
	case *types.AttributeValueMemberM:
		m, err := toSerializableMap(v.Value)
		if err != nil {
			return serializableAV{}, err
		}
		return serializableAV{Type: "M", Value: m}, nil
	case *types.AttributeValueMemberL:
		l := make([]serializableAV, len(v.Value))
		for i, el := range v.Value {
			s, err := toSerializable(el)
			if err != nil {
				return serializableAV{}, err
			}
			l[i] = s
		}
		return serializableAV{Type: "L", Value: l}, nil
	default:
		return serializableAV{}, fmt.Errorf("unsupported attribute value type %T", av)
	}
}

func fromSerializable(sav serializableAV) (types.AttributeValue, error) {
	var ok bool
	var av types.AttributeValue
	switch sav.Type {
	case "S":
		var s string
		s, ok = sav.Value.(string)
		av = &types.AttributeValueMemberS{Value: s}
	case "N":
		var s string
		s, ok = sav.Value.(string)
		av = &types.AttributeValueMemberN{Value: s}
	case "B":
		var b []byte
		b, ok = sav.Value.([]byte)
		av = &types.AttributeValueMemberB{Value: b}
	case "BOOL":
		var b bool
		b, ok = sav.Value.(bool)
		av = &types.AttributeValueMemberBOOL{Value: b}
	case "NULL":
		var b bool
		b, ok = sav.Value.(bool)
		av = &types.AttributeValueMemberNULL{Value: b}
	case "SS":
		var ss []string
		ss, ok = sav.Value.([]string)
		av = &types.AttributeValueMemberSS{Value: ss}
	case "NS":
		var ns []string
		ns, ok = sav.Value.([]string)
		av = &types.AttributeValueMemberNS{Value: ns}
	case "BS":
		var bs [][]byte
		bs, ok = sav.Value.([][]byte)
		av = &types.AttributeValueMemberBS{Value: bs}
	case "M":
		var sm map[string]serializableAV
		sm, ok = sav.Value.(map[string]serializableAV)
		if !ok {
			break
		}
		m := make(Item, len(sm))
		for k, v := range sm {
			el, err := fromSerializable(v)
			if err != nil {
				return nil, err
			}
			m[k] = el
		}
		av = &types.AttributeValueMemberM{Value: m}
	case "L":
		var sl []serializableAV
		sl, ok = sav.Value.([]serializableAV)
		if !ok {
			break
		}
		l := make([]types.AttributeValue, len(sl))
		for i, v := range sl {
			el, err := fromSerializable(v)
			if err != nil {
				return nil, err
			}
			l[i] = el
		}
		av = &types.AttributeValueMemberL{Value: l}
	default:
		return nil, fmt.Errorf("unsupported serialized type %q", sav.Type)
	}
	if !ok {
		return nil, fmt.Errorf("unexpected value %T for serialized type %q", sav.Value, sav.Type)
	}
	return av, nil
}

// jsonAV delays decoding of Value until Type is known, so numbers stay
// strings and binaries are restored from base64.
type jsonAV struct {
	Type  string
	Value json.RawMessage
}

func (j jsonAV) attributeValue() (types.AttributeValue, error) {
	switch j.Type {
	case "S":
		var s string
		err := json.Unmarshal(j.Value, &s)
		return &types.AttributeValueMemberS{Value: s}, err
	case "N":
		var s string
		err := json.Unmarshal(j.Value, &s)
		return &types.AttributeValueMemberN{Value: s}, err
	case "B":
		b, err := decodeBase64(j.Value)
		return &types.AttributeValueMemberB{Value: b}, err
	case "BOOL":
		var b bool
		err := json.Unmarshal(j.Value, &b)
		return &types.AttributeValueMemberBOOL{Value: b}, err
	case "NULL":
		var b bool
		err := json.Unmarshal(j.Value, &b)
		return &types.AttributeValueMemberNULL{Value: b}, err
	case "SS":
		var ss []string
		err := json.Unmarshal(j.Value, &ss)
		return &types.AttributeValueMemberSS{Value: ss}, err
	case "NS":
		var ns []string
		err := json.Unmarshal(j.Value, &ns)
		return &types.AttributeValueMemberNS{Value: ns}, err
	case "BS":
		var encoded []string
		if err := json.Unmarshal(j.Value, &encoded); err != nil {
			return nil, err
		}
		bs := make([][]byte, len(encoded))
		for i, e := range encoded {
			b, err := base64.StdEncoding.DecodeString(e)
			if err != nil {
				return nil, err
			}
			bs[i] = b
		}
		return &types.AttributeValueMemberBS{Value: bs}, nil
	case "M":
		var sm map[string]jsonAV
		if err := json.Unmarshal(j.Value, &sm); err != nil {
			return nil, err
		}
		m := make(Item, len(sm))
		for k, v := range sm {
			el, err := v.attributeValue()
			if err != nil {
				return nil, err
			}
			m[k] = el
		}
		return &types.AttributeValueMemberM{Value: m}, nil
	case "L":
		var sl []jsonAV
		if err := json.Unmarshal(j.Value, &sl); err != nil {
			return nil, err
		}
		l := make([]types.AttributeValue, len(sl))
		for i, v := range sl {
			el, err := v.attributeValue()
			if err != nil {
				return nil, err
			}
			l[i] = el
		}
		return &types.AttributeValueMemberL{Value: l}, nil
	default:
		return nil, fmt.Errorf("unsupported serialized type %q", j.Type)
	}
}

func decodeBase64(raw json.RawMessage) ([]byte, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(s)
}

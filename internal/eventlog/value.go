package eventlog

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Kind дискриминатор варианта значения контекста.
type Kind string

// Варианты значения контекста.
const (
	KindString Kind = "string"
	KindNumber Kind = "number"
	KindBool   Kind = "bool"
	KindMap    Kind = "map"
)

// Value значение контекста записи лога: строка, число, булево значение
// или вложенная карта. Каждый вариант форматируется явно.
type Value struct {
	Kind Kind             `json:"kind"`
	Str  string           `json:"str,omitempty"`
	Num  float64          `json:"num,omitempty"`
	Bool bool             `json:"bool,omitempty"`
	Map  map[string]Value `json:"map,omitempty"`
}

// String создает строковое значение.
func String(s string) Value {
	return Value{Kind: KindString, Str: s}
}

// Number создает числовое значение.
func Number(n float64) Value {
	return Value{Kind: KindNumber, Num: n}
}

// Bool создает булево значение.
func Bool(b bool) Value {
	return Value{Kind: KindBool, Bool: b}
}

// Map создает вложенную карту значений.
func Map(m map[string]Value) Value {
	return Value{Kind: KindMap, Map: m}
}

// Format возвращает человекочитаемое представление значения.
func (v Value) Format() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindMap:
		keys := make([]string, 0, len(v.Map))
		for k := range v.Map {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%s", k, v.Map[k].Format()))
		}
		return "{" + strings.Join(parts, " ") + "}"
	default:
		return ""
	}
}

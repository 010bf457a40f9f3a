package models

import (
	"fmt"
	"math"
	"strconv"
)

// Args 命令参数，按处理器各自校验
type Args map[string]interface{}

// Has 参数是否存在且不为 null
func (a Args) Has(key string) bool {
	v, ok := a[key]
	return ok && v != nil
}

// String 获取字符串参数
func (a Args) String(key, defaultValue string) string {
	if value, exists := a[key]; exists {
		if str, ok := value.(string); ok {
			return str
		}
	}
	return defaultValue
}

// Int 获取整数参数，接受数字和数字字符串
func (a Args) Int(key string, defaultValue int) int {
	value, exists := a[key]
	if !exists || value == nil {
		return defaultValue
	}
	if i, err := ToInt(value); err == nil {
		return i
	}
	return defaultValue
}

// Bool 获取布尔参数
func (a Args) Bool(key string, defaultValue bool) bool {
	if value, exists := a[key]; exists {
		switch v := value.(type) {
		case bool:
			return v
		case string:
			if b, err := strconv.ParseBool(v); err == nil {
				return b
			}
		}
	}
	return defaultValue
}

// ToInt 将参数值转换为整数
func ToInt(value interface{}) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("%v is not an integer", v)
		}
		return int(v), nil
	case string:
		return strconv.Atoi(v)
	default:
		return 0, fmt.Errorf("cannot convert %T to int", value)
	}
}

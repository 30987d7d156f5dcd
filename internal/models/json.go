package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSON 通用键值文档类型（结算账户、运行计数等）
type JSON map[string]interface{}

// Value 实现 driver.Valuer 接口
func (j JSON) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	raw, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

// Scan 实现 sql.Scanner 接口，兼容 sqlite 文本列与 postgres 字节列
func (j *JSON) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*j = make(JSON)
		return nil
	case []byte:
		if len(v) == 0 {
			*j = make(JSON)
			return nil
		}
		return json.Unmarshal(v, j)
	case string:
		if v == "" {
			*j = make(JSON)
			return nil
		}
		return json.Unmarshal([]byte(v), j)
	default:
		return fmt.Errorf("unsupported json column type %T", value)
	}
}

// Int64 读取整数字段，缺失时返回 0
func (j JSON) Int64(key string) int64 {
	switch v := j[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	}
	return 0
}

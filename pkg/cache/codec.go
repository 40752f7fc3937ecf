package cache

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
)

// gobTag gob编码数据的首字节，合法JSON不会以NUL开头
const gobTag byte = 0x00

// Encode 序列化值：优先JSON，JSON无法表达时回退到带gobTag前缀的gob
func Encode(value any) ([]byte, error) {
	data, jsonErr := json.Marshal(value)
	if jsonErr == nil {
		return data, nil
	}

	buf := bytes.NewBuffer([]byte{gobTag})
	if err := gob.NewEncoder(buf).Encode(value); err != nil {
		return nil, fmt.Errorf("序列化失败(json: %v): %w", jsonErr, err)
	}
	return buf.Bytes(), nil
}

// Decode 按首字节选择格式反序列化到dest
func Decode(data []byte, dest any) error {
	if len(data) > 0 && data[0] == gobTag {
		if err := gob.NewDecoder(bytes.NewReader(data[1:])).Decode(dest); err != nil {
			return fmt.Errorf("反序列化失败(gob): %w", err)
		}
		return nil
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("反序列化失败(json): %w", err)
	}
	return nil
}

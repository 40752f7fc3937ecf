package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Params 参与缓存key计算的附加参数
type Params map[string]any

// keyMaterial 参与哈希的结构化输入，每个参数带上名称、类型和JSON值
type keyMaterial struct {
	Namespace  string      `json:"ns"`
	Identifier string      `json:"id"`
	Params     [][3]string `json:"params"`
}

// Key 由命名空间、标识和排序后的参数生成稳定的缓存key
//
// 格式: <namespace>:<sha256>。参数按名称排序，调用方的参数顺序不影响结果。
// 参数值按类型区分，1和"1"得到不同的key。
func Key(namespace, identifier string, params Params) string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	material := keyMaterial{
		Namespace:  namespace,
		Identifier: identifier,
		Params:     make([][3]string, 0, len(names)),
	}
	for _, name := range names {
		v := params[name]
		material.Params = append(material.Params, [3]string{name, fmt.Sprintf("%T", v), paramValue(v)})
	}

	// 字段均为字符串，编码不会失败
	raw, _ := json.Marshal(material)
	sum := sha256.Sum256(raw)
	return namespace + ":" + hex.EncodeToString(sum[:])
}

func paramValue(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%#v", v)
	}
	return string(raw)
}

// NamespacePrefix 返回命名空间下所有key共享的前缀
func NamespacePrefix(namespace string) string {
	return namespace + ":"
}

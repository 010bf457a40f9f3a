// Package registry 能力注册表：action 到处理器的固定映射
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"mq_agent/pkg/errs"
	"mq_agent/pkg/models"
)

// Kind 处理器类型
type Kind string

const (
	KindRunOnce  Kind = "run-once"
	KindStateful Kind = "stateful"
)

// Descriptor 处理器描述
type Descriptor struct {
	Action      string `json:"action"`
	Domain      string `json:"domain"`
	Kind        Kind   `json:"kind"`
	Capability  string `json:"capability,omitempty"` // 有状态处理器对应的会话键
	Description string `json:"description"`
	Schema      string `json:"schema,omitempty"` // 参数的 JSON Schema
}

// Handler 一个能力的处理器。Execute 返回的数据作为成功响应的 data。
type Handler interface {
	Descriptor() Descriptor
	Execute(ctx context.Context, args models.Args) (interface{}, error)
}

// Validator 可选接口，在 schema 之后做处理器自己的参数检查
type Validator interface {
	Validate(args models.Args) error
}

type entry struct {
	handler Handler
	schema  *gojsonschema.Schema
}

// Registry 能力注册表。Seal 之后不可修改，读取无需加锁。
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	sealed  bool
}

// New 创建注册表
func New() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register 注册处理器。重复注册、Seal 之后注册或 schema 无效都属于启动期编程错误，直接 panic。
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d := h.Descriptor()
	if r.sealed {
		panic(fmt.Sprintf("registry: register %q after seal", d.Action))
	}
	if d.Action == "" {
		panic("registry: empty action")
	}
	if _, exists := r.entries[d.Action]; exists {
		panic(fmt.Sprintf("registry: duplicate action %q", d.Action))
	}

	e := &entry{handler: h}
	if d.Schema != "" {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(d.Schema))
		if err != nil {
			panic(fmt.Sprintf("registry: invalid schema for %q: %v", d.Action, err))
		}
		e.schema = schema
	}
	r.entries[d.Action] = e
}

// Seal 结束注册
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Lookup 精确匹配查找处理器，大小写敏感
func (r *Registry) Lookup(action string) (Handler, bool) {
	e, ok := r.entries[action]
	if !ok {
		return nil, false
	}
	return e.handler, true
}

// Validate 按 schema 和处理器自身规则检查参数，任何副作用发生之前调用
func (r *Registry) Validate(action string, args models.Args) error {
	e, ok := r.entries[action]
	if !ok {
		return errs.UnknownCommand(action)
	}

	if e.schema != nil {
		if args == nil {
			args = models.Args{}
		}
		doc, err := json.Marshal(args)
		if err != nil {
			return errs.Validation("Invalid arguments: %v", err)
		}
		result, err := e.schema.Validate(gojsonschema.NewBytesLoader(doc))
		if err != nil {
			return errs.Validation("Invalid arguments: %v", err)
		}
		if !result.Valid() {
			var details []string
			for _, desc := range result.Errors() {
				details = append(details, desc.Description())
			}
			return errs.Validation("Invalid arguments: %s", strings.Join(details, "; "))
		}
	}

	if v, ok := e.handler.(Validator); ok {
		return v.Validate(args)
	}
	return nil
}

// List 返回全部描述，按 action 排序
func (r *Registry) List() []Descriptor {
	list := make([]Descriptor, 0, len(r.entries))
	for _, e := range r.entries {
		list = append(list, e.handler.Descriptor())
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Action < list[j].Action })
	return list
}

// Len 注册数量
func (r *Registry) Len() int {
	return len(r.entries)
}

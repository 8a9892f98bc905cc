package meta

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

const (
	KeyRequestID = "request_id"
	KeyOperation = "operation"
	KeyAddress   = "address"
)

// 元信息对象，一次请求内各处写入，最后由日志中间件输出
type metadata struct {
	carrier logrus.Fields
	mu      sync.RWMutex
}

func (c *metadata) Value(key string) interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.carrier[key]
}

func (c *metadata) WithValue(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.carrier[key] = value
}

func (c *metadata) fields() logrus.Fields {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(logrus.Fields, len(c.carrier))
	for k, v := range c.carrier {
		out[k] = v
	}
	return out
}

type contextKey struct{}

var metaContextKey = contextKey{}

// Begin 开启元信息对象
// 父上下文已有元信息对象时直接返回父上下文，应在尽量靠近根上下文处调用
func Begin(parent context.Context) context.Context {
	if metadataFrom(parent) != nil {
		return parent
	}
	return context.WithValue(parent, metaContextKey, &metadata{carrier: make(logrus.Fields)})
}

func metadataFrom(parent context.Context) *metadata {
	m, _ := parent.Value(metaContextKey).(*metadata)
	return m
}

// WithValue 设置键值对至上下文的元信息对象，未调用Begin时忽略
func WithValue(parent context.Context, key string, val interface{}) {
	m := metadataFrom(parent)
	if m == nil {
		logrus.Debug("meta not found from context, should call meta.Begin() first?")
		return
	}
	m.WithValue(key, val)
}

// Value 从上下文的元信息对象中获取对应key的值
func Value(parent context.Context, key string) interface{} {
	m := metadataFrom(parent)
	if m == nil {
		return nil
	}
	return m.Value(key)
}

// RequestID returns the id the log middleware assigned to the request.
func RequestID(parent context.Context) string {
	id, _ := Value(parent, KeyRequestID).(string)
	return id
}

// Fields copies every value as log fields.
func Fields(parent context.Context) logrus.Fields {
	m := metadataFrom(parent)
	if m == nil {
		return logrus.Fields{}
	}
	return m.fields()
}

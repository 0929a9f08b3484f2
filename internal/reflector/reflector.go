// Package reflector derives stable type names for event registration and
// caches the reflection work per type.
package reflector

import (
	"reflect"
	"sync"
)

var (
	mu    sync.RWMutex
	cache = make(map[reflect.Type]TypeInfo)
)

type TypeInfo struct {
	Name string
	Type reflect.Type
}

func TypeInfoOf(x any) TypeInfo {
	return TypeInfoForType(reflect.TypeOf(x))
}

func TypeInfoFor[T any]() TypeInfo {
	return TypeInfoForType(reflect.TypeOf((*T)(nil)).Elem())
}

func TypeInfoForType(t reflect.Type) TypeInfo {
	mu.RLock()
	ti, ok := cache[t]
	mu.RUnlock()
	if ok {
		return ti
	}

	if t == nil {
		return TypeInfo{}
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	ti = TypeInfo{
		Name: t.PkgPath() + "." + t.Name(),
		Type: t,
	}

	mu.Lock()
	cache[t] = ti
	mu.Unlock()
	return ti
}

package node

import (
	"reflect"
	"sync"

	"golang.org/x/xerrors"
)

// reflectInjector resolves the dependencies by type. When several
// dependencies are compatible, the first injected wins.
//
// - implements node.Injector
type reflectInjector struct {
	sync.RWMutex

	values []interface{}
}

// NewInjector returns an empty injector.
func NewInjector() Injector {
	return &reflectInjector{}
}

// Resolve implements node.Injector. The input must be a pointer, which is
// populated with the first compatible dependency.
func (inj *reflectInjector) Resolve(v interface{}) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr {
		return xerrors.New("expect a pointer")
	}

	if rv.IsNil() {
		return xerrors.Errorf("reflect value '%v' is invalid", rv)
	}

	target := rv.Elem().Type()

	inj.RLock()
	defer inj.RUnlock()

	for _, value := range inj.values {
		if reflect.TypeOf(value).AssignableTo(target) {
			rv.Elem().Set(reflect.ValueOf(value))
			return nil
		}
	}

	return xerrors.Errorf("couldn't find dependency for '%v'", target)
}

// Inject implements node.Injector. A dependency of the same type replaces the
// previous one.
func (inj *reflectInjector) Inject(v interface{}) {
	typ := reflect.TypeOf(v)

	inj.Lock()
	defer inj.Unlock()

	for i, value := range inj.values {
		if reflect.TypeOf(value) == typ {
			inj.values[i] = v
			return
		}
	}

	inj.values = append(inj.values, v)
}

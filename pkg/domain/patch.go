package domain

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// ApplyUpdates sets dotted JSON paths (e.g. "businessInfo.trn") on target,
// which must be a pointer to a JSON-tagged struct. Intermediate objects are
// created as needed. The target is left untouched on error.
func ApplyUpdates(target interface{}, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	raw, err := json.Marshal(target)
	if err != nil {
		return err
	}
	var tree map[string]interface{}
	if err := json.Unmarshal(raw, &tree); err != nil {
		return err
	}
	for path, value := range updates {
		if err := setPath(tree, strings.Split(path, "."), value); err != nil {
			return fmt.Errorf("apply %s: %w", path, err)
		}
	}
	patched, err := json.Marshal(tree)
	if err != nil {
		return err
	}
	// Decode into a fresh value so a failure cannot leave target half-written.
	fresh := reflect.New(reflect.TypeOf(target).Elem())
	if err := json.Unmarshal(patched, fresh.Interface()); err != nil {
		return err
	}
	reflect.ValueOf(target).Elem().Set(fresh.Elem())
	return nil
}

func setPath(node map[string]interface{}, parts []string, value interface{}) error {
	key := parts[0]
	if len(parts) == 1 {
		node[key] = value
		return nil
	}
	child, ok := node[key]
	if !ok || child == nil {
		next := map[string]interface{}{}
		node[key] = next
		return setPath(next, parts[1:], value)
	}
	m, ok := child.(map[string]interface{})
	if !ok {
		return fmt.Errorf("%s is not an object", key)
	}
	return setPath(m, parts[1:], value)
}

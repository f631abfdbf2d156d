package catalog

import (
	"encoding/json"
	"fmt"
	"os"
)

// LoadFile reads a menu from a JSON file, an array of menu items. Tills
// load the menu once at startup; live menu edits are out of scope here.
func LoadFile(path string) (StaticSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read menu file: %w", err)
	}
	var items []MenuItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("parse menu file: %w", err)
	}
	src := make(StaticSource, len(items))
	for _, it := range items {
		if it.MenuItemID == "" {
			return nil, fmt.Errorf("menu item %q has no id", it.Name)
		}
		src[it.MenuItemID] = it
	}
	return src, nil
}

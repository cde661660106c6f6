package tools

import (
	"encoding/json"
	"fmt"
)

const maxChipArgs = 30

// FormatCall renders a call as a short chip label such as addToOrder("BURGER").
func FormatCall(name string, args map[string]any) string {
	var display string
	switch {
	case (name == AddToOrder || name == RemoveFromOrder) && stringArg(args, "itemName") != "":
		display = `"` + stringArg(args, "itemName") + `"`
	case name == VisualizeIngredient && stringArg(args, "ingredient") != "":
		display = `"` + stringArg(args, "ingredient") + `"`
	case name == CreateCustomBurger && args["ingredients"] != nil:
		display = fmt.Sprintf("[%d items]", len(stringsArg(args, "ingredients")))
	case name == GenerateOrderPreview:
		display = "Full Order"
	default:
		if raw, err := json.Marshal(args); err == nil {
			display = string(raw)
		}
		if display == "{}" || display == "null" {
			display = ""
		}
	}

	if r := []rune(display); len(r) > maxChipArgs {
		display = string(r[:maxChipArgs-3]) + "..."
	}
	return name + "(" + display + ")"
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func stringsArg(args map[string]any, key string) []string {
	switch v := args[key].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, x := range v {
			if s, ok := x.(string); ok {
				out = append(out, s)
			} else {
				out = append(out, fmt.Sprint(x))
			}
		}
		return out
	}
	return nil
}

package inventory

// EventTypes is the fixed allow-list of handler types the inventory looks
// for. Anything else attached to an element is ignored.
var EventTypes = []string{
	"abort",
	"blur",
	"change",
	"click",
	"close",
	"contextmenu",
	"dblclick",
	"focus",
	"input",
	"keydown",
	"keypress",
	"keyup",
	"mouseenter",
	"mousedown",
	"mouseleave",
	"mousemove",
	"mouseout",
	"mouseover",
	"mouseup",
	"reset",
	"resize",
	"scroll",
	"select",
	"submit",
}

var allowed = func() map[string]bool {
	m := make(map[string]bool, len(EventTypes))
	for _, t := range EventTypes {
		m[t] = true
	}
	return m
}()

// Allowed reports whether typ is in the allow-list.
func Allowed(typ string) bool { return allowed[typ] }

// ignoredTags are never candidates: triggering them either does nothing
// useful or navigates away mid-measurement.
var ignoredTags = map[string]bool{
	"SCRIPT":    true,
	"IFRAME":    true,
	"BODY":      true,
	"LINK":      true,
	"IMG":       true,
	"INPUT":     true,
	"FORM":      true,
	"HTML":      true,
	"#document": true,
}

// CancelPair is an (entry, exit) pair of event types whose effects cancel
// out. When both are present only Entry is worth triggering.
type CancelPair struct {
	Entry string
	Exit  string
}

// CancelPairs is the fixed pair table. Some exit types close more than one
// entry type (touchend, dragleave, dragend).
var CancelPairs = []CancelPair{
	{"mouseover", "mouseout"},
	{"mouseenter", "mouseleave"},
	{"focus", "blur"},
	{"focusin", "focusout"},
	{"pointerenter", "pointerleave"},
	{"pointerover", "pointerout"},
	{"pointerdown", "pointerup"},
	{"mousedown", "mouseup"},
	{"touchstart", "touchend"},
	{"touchenter", "touchleave"},
	{"touchcancel", "touchend"},
	{"dragenter", "dragleave"},
	{"dragover", "dragleave"},
	{"dragstart", "dragend"},
	{"drag", "dragend"},
}

// cancelled reports whether typ is the exit member of a pair whose entry
// member is present.
func cancelled(typ string, present map[string]bool) bool {
	for _, p := range CancelPairs {
		if p.Exit == typ && present[p.Entry] {
			return true
		}
	}
	return false
}

// FilterCancelPairs drops every type that is the exit member of its pair
// while the pair's entry member is also present. Types outside the table
// pass through. The result keeps the input order and has no duplicates.
func FilterCancelPairs(types []string) []string {
	present := make(map[string]bool, len(types))
	for _, t := range types {
		present[t] = true
	}

	out := make([]string, 0, len(types))
	seen := make(map[string]bool, len(types))
	for _, t := range types {
		if seen[t] {
			continue
		}
		seen[t] = true
		if cancelled(t, present) {
			continue
		}
		out = append(out, t)
	}
	return out
}

package sntray

// Action is a method of the item interface triggered by user input.
type Action int

const (
	ActionNone Action = iota
	ActionActivate
	ActionSecondaryActivate
	ActionContextMenu
)

func (a Action) String() string {
	switch a {
	case ActionActivate:
		return "Activate"
	case ActionSecondaryActivate:
		return "SecondaryActivate"
	case ActionContextMenu:
		return "ContextMenu"
	default:
		return "None"
	}
}

// Pointer buttons as reported by the window system.
const (
	ButtonPrimary   uint8 = 1
	ButtonSecondary uint8 = 2
	ButtonContext   uint8 = 3
)

// ActionForButton maps a pointer button to an action. Buttons other than
// left, middle and right map to [ActionNone].
func ActionForButton(button uint8) Action {
	switch button {
	case ButtonPrimary:
		return ActionActivate
	case ButtonSecondary:
		return ActionSecondaryActivate
	case ButtonContext:
		return ActionContextMenu
	default:
		return ActionNone
	}
}

// InputRouter maps pointer events on the horizontal tray to items.
type InputRouter struct {
	iconSize int
}

// NewInputRouter returns an [InputRouter] for icons of iconSize pixels.
func NewInputRouter(iconSize int) *InputRouter {
	return &InputRouter{iconSize: iconSize}
}

// Index returns the index of the slot containing x, or false if x is outside
// of the first count slots.
func (r *InputRouter) Index(x, count int) (int, bool) {
	if x < 0 || r.iconSize <= 0 {
		return 0, false
	}

	idx := x / r.iconSize
	if idx >= count {
		return 0, false
	}

	return idx, true
}

// Route returns the item under the pointer and the action to invoke on it.
// ok is false when the event must be ignored.
func (r *InputRouter) Route(ev InputEvent, items []*Item) (item *Item, action Action, ok bool) {
	action = ActionForButton(ev.Button)
	if action == ActionNone {
		return nil, ActionNone, false
	}

	idx, ok := r.Index(ev.EventX, len(items))
	if !ok {
		return nil, ActionNone, false
	}

	return items[idx], action, true
}

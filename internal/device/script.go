package device

import "github.com/king0929zion/Zigent-sub000/api/schemas"

// defaultScript is the built-in demo device: a launcher, a settings app
// with a wifi page, and a messages app with a composer. It is small but
// exercises every action family the engine dispatches.
func defaultScript() *Script {
	return &Script{
		Initial: "home",
		Screens: []Screen{
			{
				ID:   "home",
				App:  "com.sim.launcher",
				Page: "launcher",
				Elements: []schemas.Element{
					{ID: "icon-settings", Kind: schemas.ElementButton, Text: "Settings", Bounds: rect(100, 300, 260, 420), Clickable: true},
					{ID: "icon-messages", Kind: schemas.ElementButton, Text: "Messages", Bounds: rect(300, 300, 460, 420), Clickable: true},
					{ID: "clock", Kind: schemas.ElementText, Text: "12:30", Bounds: rect(20, 40, 200, 120)},
				},
				Transitions: []Transition{
					{OnKind: schemas.ActionTap, TargetText: "Settings", To: "settings"},
					{OnKind: schemas.ActionTap, TargetText: "Messages", To: "messages"},
					{OnKind: schemas.ActionOpenApp, App: "settings", To: "settings"},
					{OnKind: schemas.ActionOpenApp, App: "messages", To: "messages"},
				},
			},
			{
				ID:   "settings",
				App:  "com.sim.settings",
				Page: "settings/root",
				Elements: []schemas.Element{
					{ID: "row-network", Kind: schemas.ElementButton, Text: "Network & internet", Bounds: rect(40, 200, 680, 300), Clickable: true},
					{ID: "row-display", Kind: schemas.ElementButton, Text: "Display", Bounds: rect(40, 320, 680, 420), Clickable: true},
				},
				Transitions: []Transition{
					{OnKind: schemas.ActionTap, TargetText: "Network & internet", To: "settings-wifi"},
					{OnKind: schemas.ActionCloseApp, App: "settings", To: "home"},
					{OnKind: schemas.ActionKeyPress, Key: "HOME", To: "home"},
				},
			},
			{
				ID:   "settings-wifi",
				App:  "com.sim.settings",
				Page: "settings/network",
				Elements: []schemas.Element{
					{ID: "switch-wifi", Kind: schemas.ElementSwitch, Text: "Wi-Fi", Bounds: rect(40, 200, 680, 300), Clickable: true},
					{ID: "switch-airplane", Kind: schemas.ElementSwitch, Text: "Airplane mode", Bounds: rect(40, 320, 680, 420), Clickable: true},
				},
				Transitions: []Transition{
					{OnKind: schemas.ActionTap, TargetText: "Wi-Fi", To: "settings-wifi-on"},
					{OnKind: schemas.ActionKeyPress, Key: "HOME", To: "home"},
				},
			},
			{
				ID:   "settings-wifi-on",
				App:  "com.sim.settings",
				Page: "settings/network",
				Elements: []schemas.Element{
					{ID: "switch-wifi", Kind: schemas.ElementSwitch, Text: "Wi-Fi on", Bounds: rect(40, 200, 680, 300), Clickable: true},
					{ID: "switch-airplane", Kind: schemas.ElementSwitch, Text: "Airplane mode", Bounds: rect(40, 320, 680, 420), Clickable: true},
				},
				Transitions: []Transition{
					{OnKind: schemas.ActionKeyPress, Key: "HOME", To: "home"},
				},
			},
			{
				ID:   "messages",
				App:  "com.sim.messages",
				Page: "messages/compose",
				Elements: []schemas.Element{
					{ID: "field-body", Kind: schemas.ElementInput, Text: "", Label: "Message text", Bounds: rect(40, 900, 560, 1000), Editable: true, Focused: true},
					{ID: "btn-send", Kind: schemas.ElementButton, Text: "Send", Bounds: rect(580, 900, 700, 1000), Clickable: true},
				},
				Transitions: []Transition{
					{OnKind: schemas.ActionTap, TargetText: "Send", To: "messages-sent"},
					{OnKind: schemas.ActionKeyPress, Key: "HOME", To: "home"},
				},
			},
			{
				ID:   "messages-sent",
				App:  "com.sim.messages",
				Page: "messages/thread",
				Elements: []schemas.Element{
					{ID: "bubble-last", Kind: schemas.ElementText, Text: "Delivered", Bounds: rect(40, 700, 680, 800)},
				},
				Transitions: []Transition{
					{OnKind: schemas.ActionKeyPress, Key: "HOME", To: "home"},
				},
			},
		},
	}
}

// rect is shorthand for building element rectangles in scripts.
func rect(left, top, right, bottom int) schemas.Bounds {
	return schemas.Bounds{Left: left, Top: top, Right: right, Bottom: bottom}
}

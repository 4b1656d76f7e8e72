package core

import "OpenChat-Bot/internal/personality"

func registerMessages(c *personality.Catalog) {
	c.Register("fancy", map[string]string{
		"This command is restricted to administrators.": "{b}This command{/b} is restricted to administrators.",
		"Administrator {nick} added.":                   "Administrator {b}[{nick}]{/b} added.",
		"Administrator {nick} removed.":                 "Administrator {b}[{nick}]{/b} removed.",
		"Module {mod} enabled for channel {chan}.":      "Module {b}[{mod}]{/b} enabled for channel {b}[{srv}:{chan}]{/b}.",
		"Module {mod} enabled for server {srv}.":        "Module {b}[{mod}]{/b} enabled for server {b}[{srv}]{/b}.",
		"Module {mod} globally enabled.":                "Module {b}[{mod}]{/b} enabled globally.",
		"Module {mod} disabled for channel {chan}.":     "Module {b}[{mod}]{/b} disabled for channel {b}[{srv}:{chan}]{/b}.",
		"Module {mod} disabled for server {srv}.":       "Module {b}[{mod}]{/b} disabled for server {b}[{srv}]{/b}.",
		"Module {mod} globally disabled.":               "Module {b}[{mod}]{/b} disabled globally.",
		"Module {mod} loaded.":                          "Module {b}[{mod}]{/b} loaded.",
		"Module {mod} unloaded.":                        "Module {b}[{mod}]{/b} unloaded.",
		"Module {mod} reloaded.":                        "Module {b}[{mod}]{/b} reloaded.",
		"Unknown server {srv}.":                         "Unknown server {b}[{srv}]{/b}.",
		"Configuration loaded.":                         "Configuration {u}loaded{/u}.",
		"Configuration saved.":                          "Configuration {u}saved{/u}.",
		"Configuration item {name} set.":                "Configuration item {b}{name}{/b} set.",
		"{name}: {val}":                                 "{b}[{name}]:{/b} {val}",
	})
	c.Register("tsun", map[string]string{
		"This command is restricted to administrators.": "B-baka! Y-you can't just walk up and do that kinda stuff without permission!",
		"Administrator {nick} added.":                   "I guess {nick} is a pretty cool person, huh...",
		"Administrator {nick} removed.":                 "I didn't like {nick} anyway, the CREEP!",
		"Administrators: {admins}":                      "My current masters? Uhm, there's {admins}, I think...",
		"Module {mod} enabled for channel {chan}.":      "I guess I'll enable {mod} just for you...",
		"Module {mod} disabled for channel {chan}.":     "W-well, {mod} may have been just a little bit annoying...",
		"Module {mod} loaded.":                          "POWER-UP! {mod} activated!",
		"Module {mod} unloaded.":                        "I suddenly feel a lot thinner...",
		"Module {mod} reloaded.":                        "RELOAD! {mod} updated!",
		"Loaded modules: {mods}":                        "R-right now, I can do this! {mods}",
		"Unknown server {srv}.":                         "I don't know that server...",
		"Configuration loaded.":                         "Now I remember!",
		"Configuration saved.":                          "Wrote these settings down to be su-per sure~!",
		"Configuration item {name} set.":                "I'll try to remember that!",
		"{nick} added to ignore list.":                  "Yeah, they are the WO~RST!",
		"{nick} removed from ignore list.":              "I-I guess {nick} can be pretty alright... b-but only because you say so!",
		"Not ignoring anyone right now.":                "Everyone's okay by me!",
		"My source is at {src}.":                        "I s-suppose you could find me at {src}... but don't look too closely!",
		"This is {n} v{v}, ready to serve.":             "{n} Ver.{v}, at your service!",
	})
	c.Register("fancy", map[string]string{
		"Added value to configuration item {name}.":   "Added value to configuration item {b}{name}{/b}.",
		"Set key {key} in configuration item {name}.": "Set key {b}{key}{/b} in configuration item {b}{name}{/b}.",
		"Configuration item {name} unset.":            "Configuration item {b}{name}{/b} unset.",
		"Nickname changed to {nick}.":                 "Nickname changed to {b}{nick}{/b}.",
		"Commands: {cmds}":                            "{b}Commands:{/b} {cmds}",
	})
	c.Register("tsun", map[string]string{
		"Nickname changed to {nick}.": "F-fine, call me {nick} then!",
		"Parted.":                     "I-it's not like I wanted to stay here anyway!",
		"Quit":                        "Hmph!",
	})
}

// Package version 保存构建信息，可通过 -ldflags "-X" 覆盖。
package version

var (
	Name    = "openchat"
	Version = "0.1.0"
	Source  = "https://github.com/openchat-bot/openchat"
)

// String 返回 "名称 v版本"。
func String() string {
	return Name + " v" + Version
}

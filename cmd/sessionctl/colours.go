package main

import (
	"github.com/jrsteele09/go-auth-session/monitor"
)

const (
	red    = "\033[31m"
	green  = "\033[32m"
	yellow = "\033[33m"
	cyan   = "\033[36m"
	gray   = "\033[90m"

	resetColour = "\033[0m"
)

var stateColours = map[monitor.State]string{
	monitor.Active:       green,
	monitor.WarningShown: yellow,
	monitor.Expired:      red,
}

func colourise(colour, s string) string {
	if colour == "" {
		return s
	}
	return colour + s + resetColour
}

func stateLabel(s monitor.State) string {
	return colourise(stateColours[s], s.String())
}

// statusColour picks a colour by HTTP status class.
func statusColour(code int) string {
	switch {
	case code >= 500:
		return red
	case code >= 400:
		return yellow
	case code >= 300:
		return cyan
	case code >= 200:
		return green
	}
	return gray
}

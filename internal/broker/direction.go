package broker

import (
	"fmt"
	"strings"
)

// Direction is a normalized order side.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

// NormalizeDirection maps the platform's loose direction encodings onto the
// broker's tokens. Accepted: 0 / "BUY" (any case, surrounding space) for
// buys, 1 / "SELL" for sells. JSON-decoded numbers arrive as float64, so
// numeric forms are accepted as int, int64, and float64.
func NormalizeDirection(v any) (Direction, error) {
	switch d := v.(type) {
	case Direction:
		return NormalizeDirection(string(d))
	case string:
		switch strings.ToUpper(strings.TrimSpace(d)) {
		case "0", "BUY":
			return DirectionBuy, nil
		case "1", "SELL":
			return DirectionSell, nil
		}
	case int:
		return directionFromNumber(float64(d))
	case int64:
		return directionFromNumber(float64(d))
	case float64:
		return directionFromNumber(d)
	}
	return "", &ValidationError{Field: "direction", Value: fmt.Sprintf("%v", v), Reason: "unknown direction token"}
}

func directionFromNumber(n float64) (Direction, error) {
	switch n {
	case 0:
		return DirectionBuy, nil
	case 1:
		return DirectionSell, nil
	}
	return "", &ValidationError{Field: "direction", Value: fmt.Sprintf("%v", n), Reason: "unknown direction token"}
}

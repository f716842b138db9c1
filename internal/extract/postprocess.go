package extract

import (
	"strings"

	"cardispatch/internal/util"
)

// transforms are the named postprocess steps a rule may chain. Unknown names
// are ignored so a newer profile does not break an older binary.
var transforms = map[string]func(string) string{
	"vin":    util.NormalizeVIN,
	"state":  util.NormalizeState,
	"zip5":   util.Zip5,
	"date":   util.ParseDate,
	"digits": util.Digits,
	"title":  util.TitleCase,
	"upper":  strings.ToUpper,
	"lower":  strings.ToLower,
	"trim":   strings.TrimSpace,
}

func applyPostprocess(value string, steps []string) string {
	for _, step := range steps {
		if fn, ok := transforms[step]; ok {
			value = fn(value)
		}
	}
	return strings.TrimSpace(value)
}

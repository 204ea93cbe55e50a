package gateway

import (
	"fmt"
	"runtime"

	"github.com/dunglas/httpsfv"
)

// ClientAgent renders the Client-Agent header as an RFC 8941 dictionary:
//
//	name="storefront", version="1.0.0", platform=linux
func ClientAgent(name, version string) (string, error) {
	dict := httpsfv.NewDictionary()
	dict.Add("name", httpsfv.NewItem(name))
	if version != "" {
		dict.Add("version", httpsfv.NewItem(version))
	}
	dict.Add("platform", httpsfv.NewItem(httpsfv.Token(runtime.GOOS)))

	value, err := httpsfv.Marshal(dict)
	if err != nil {
		return "", fmt.Errorf("encoding Client-Agent header: %w", err)
	}
	return value, nil
}

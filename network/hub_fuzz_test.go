package network

import (
	"testing"
)

// FuzzDecodeInject tests injection parsing with random inputs.
// Run with: go test -fuzz=FuzzDecodeInject -fuzztime=30s ./network/
func FuzzDecodeInject(f *testing.F) {
	f.Add([]byte(`{"from":0,"to":"all","type":"PREPARE","value":1,"nonce":"abc"}`))
	f.Add([]byte(`{"from":1,"to":3,"type":"COMMIT","value":-5}`))
	f.Add([]byte(`{"to":"-1"}`))
	f.Add([]byte(`{}`))
	f.Add([]byte(`[]`))
	f.Add([]byte(`null`))

	f.Fuzz(func(t *testing.T, data []byte) {
		env, err := DecodeInject(data)
		if err != nil {
			return
		}
		if env.To < 0 && env.To.String() != "all" {
			t.Errorf("Negative target %d decoded", int(env.To))
		}
	})
}

package gateway

import "github.com/bytedance/sonic"

// decodeHello parses the Hello (op 10) body.
func decodeHello(data []byte) (*HelloData, error) {
	var h HelloData
	if err := sonic.Unmarshal(data, &h); err != nil {
		return nil, wrapDecode(err)
	}
	return &h, nil
}

// unmarshalJSON is the shared typed-body decoder every dispatch handler in
// dispatch.go uses to go from a raw "d" payload to a concrete struct.
func unmarshalJSON(data []byte, v interface{}) error {
	if err := sonic.Unmarshal(data, v); err != nil {
		return wrapDecode(err)
	}
	return nil
}

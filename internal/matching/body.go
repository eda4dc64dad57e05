package matching

import (
	"bytes"
	"reflect"

	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
)

// matchBody compares request and capture bodies. With JSONPaths
// configured, both bodies must parse as JSON and yield equal values at
// every path. Without paths the comparison is full equality, structural
// for JSON bodies so key order and whitespace do not matter, byte
// equality otherwise.
func matchBody(reqBody, recBody []byte, paths []string) bool {
	if len(paths) > 0 {
		return matchBodyPaths(reqBody, recBody, paths)
	}

	reqData, reqErr := oj.Parse(reqBody)
	recData, recErr := oj.Parse(recBody)
	if reqErr == nil && recErr == nil {
		return reflect.DeepEqual(reqData, recData)
	}
	return bytes.Equal(reqBody, recBody)
}

func matchBodyPaths(reqBody, recBody []byte, paths []string) bool {
	reqData, err := oj.Parse(reqBody)
	if err != nil {
		return false
	}
	recData, err := oj.Parse(recBody)
	if err != nil {
		return false
	}

	for _, path := range paths {
		expr, err := jp.ParseString(path)
		if err != nil {
			return false
		}
		reqVals := expr.Get(reqData)
		recVals := expr.Get(recData)
		if !reflect.DeepEqual(reqVals, recVals) {
			return false
		}
	}
	return true
}

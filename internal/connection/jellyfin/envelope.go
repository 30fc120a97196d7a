package jellyfin

import (
	"github.com/valyala/fastjson"
)

// parserPool hands out fastjson parsers; a parser is not safe for concurrent
// use, the pool is.
var parserPool fastjson.ParserPool

// eachItem parses body and calls fn for every element of the top-level
// "Items" array. A body without an "Items" array yields no calls.
// Values passed to fn are only valid during the call.
func eachItem(body []byte, fn func(*fastjson.Value)) error {
	p := parserPool.Get()
	defer parserPool.Put(p)

	root, err := p.ParseBytes(body)
	if err != nil {
		return &ParseError{Err: err, Body: body}
	}

	items := root.Get("Items")
	if items == nil || items.Type() != fastjson.TypeArray {
		return nil
	}
	elems, _ := items.Array()
	for _, el := range elems {
		fn(el)
	}
	return nil
}

// stringField returns the string value of key, or "" when the field is
// missing or is not a JSON string.
func stringField(v *fastjson.Value, key string) string {
	return string(v.GetStringBytes(key))
}

// boolField is true only when key holds the JSON literal true.
func boolField(v *fastjson.Value, key string) bool {
	f := v.Get(key)
	return f != nil && f.Type() == fastjson.TypeTrue
}

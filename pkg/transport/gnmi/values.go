package gnmi

import (
	"encoding/base64"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	gnmipb "github.com/openconfig/gnmi/proto/gnmi"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// PathString renders prefix+path as an XPath-like string such as
// /interfaces/interface[name=ge-0/0/0]/state.
func PathString(prefix, path *gnmipb.Path) string {
	var elems []*gnmipb.PathElem
	elems = append(elems, prefix.GetElem()...)
	elems = append(elems, path.GetElem()...)
	if len(elems) == 0 {
		return "/"
	}
	var b strings.Builder
	for _, e := range elems {
		b.WriteByte('/')
		b.WriteString(e.GetName())
		keys := make([]string, 0, len(e.GetKey()))
		for k := range e.GetKey() {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "[%s=%s]", k, e.GetKey()[k])
		}
	}
	return b.String()
}

// lastKey returns the value of key on the deepest element that has it.
func lastKey(prefix, path *gnmipb.Path, key string) string {
	elems := append(append([]*gnmipb.PathElem{}, prefix.GetElem()...), path.GetElem()...)
	for i := len(elems) - 1; i >= 0; i-- {
		if v, ok := elems[i].GetKey()[key]; ok {
			return v
		}
	}
	return ""
}

// ValueJSON renders a typed value as raw JSON.
func ValueJSON(v *gnmipb.TypedValue) string {
	switch val := v.GetValue().(type) {
	case *gnmipb.TypedValue_JsonIetfVal:
		return string(val.JsonIetfVal)
	case *gnmipb.TypedValue_JsonVal:
		return string(val.JsonVal)
	case *gnmipb.TypedValue_StringVal:
		return strconv.Quote(val.StringVal)
	case *gnmipb.TypedValue_AsciiVal:
		return strconv.Quote(val.AsciiVal)
	case *gnmipb.TypedValue_IntVal:
		return strconv.FormatInt(val.IntVal, 10)
	case *gnmipb.TypedValue_UintVal:
		return strconv.FormatUint(val.UintVal, 10)
	case *gnmipb.TypedValue_BoolVal:
		return strconv.FormatBool(val.BoolVal)
	case *gnmipb.TypedValue_DoubleVal:
		return formatFloat(val.DoubleVal)
	case *gnmipb.TypedValue_BytesVal:
		return strconv.Quote(base64.StdEncoding.EncodeToString(val.BytesVal))
	case *gnmipb.TypedValue_LeaflistVal:
		elems := make([]string, 0, len(val.LeaflistVal.GetElement()))
		for _, e := range val.LeaflistVal.GetElement() {
			elems = append(elems, validJSON(ValueJSON(e)))
		}
		return "[" + strings.Join(elems, ",") + "]"
	}
	return "null"
}

func formatFloat(f float64) string {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return strconv.Quote(strconv.FormatFloat(f, 'g', -1, 64))
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// NotificationsJSON renders every update in the notifications as a pretty
// JSON array of {path, value} objects. Values that are not valid JSON are
// kept as strings.
func NotificationsJSON(notifs []*gnmipb.Notification) (string, error) {
	doc := "[]"
	for _, n := range notifs {
		for _, u := range n.GetUpdate() {
			path := PathString(n.GetPrefix(), u.GetPath())
			entry, err := sjson.Set("{}", "path", path)
			if err == nil {
				entry, err = sjson.SetRaw(entry, "value", validJSON(ValueJSON(u.GetVal())))
			}
			if err == nil {
				doc, err = sjson.SetRaw(doc, "-1", entry)
			}
			if err != nil {
				return "", fmt.Errorf("encoding %s: %w", path, err)
			}
		}
	}
	return gjson.Get(doc, "@pretty").Raw, nil
}

// validJSON returns raw, or raw quoted as a JSON string when it does not
// parse.
func validJSON(raw string) string {
	if gjson.Valid(raw) {
		return raw
	}
	return strconv.Quote(raw)
}

// FlattenLines renders a JSON value rooted at base as sorted
// "path = value" lines, one per leaf. Module prefixes on keys are dropped.
func FlattenLines(base, raw string) []string {
	var lines []string
	var walk func(path string, v gjson.Result)
	walk = func(path string, v gjson.Result) {
		switch {
		case v.IsObject():
			v.ForEach(func(k, child gjson.Result) bool {
				walk(path+"/"+stripModule(k.String()), child)
				return true
			})
		case v.IsArray():
			for i, child := range v.Array() {
				walk(fmt.Sprintf("%s[%s]", path, listKey(child, i)), child)
			}
		default:
			lines = append(lines, fmt.Sprintf("%s = %s", path, v.Raw))
		}
	}
	if base == "/" {
		base = ""
	}
	walk(base, gjson.Parse(raw))
	sort.Strings(lines)
	return lines
}

// listKey picks a stable identifier for a list entry: its name when it has
// one, otherwise its position.
func listKey(entry gjson.Result, i int) string {
	for _, k := range []string{"name", "index", "id"} {
		if v := field(entry, k); v.Exists() && !v.IsObject() && !v.IsArray() {
			return k + "=" + v.String()
		}
	}
	return strconv.Itoa(i)
}

func stripModule(key string) string {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[i+1:]
	}
	return key
}

// field reads key from an object whose keys may carry a module prefix.
func field(obj gjson.Result, key string) gjson.Result {
	if v := obj.Get(gjsonEscape(key)); v.Exists() {
		return v
	}
	var found gjson.Result
	obj.ForEach(func(k, v gjson.Result) bool {
		if stripModule(k.String()) == key {
			found = v
			return false
		}
		return true
	})
	return found
}

// gjsonEscape escapes the characters gjson treats as path syntax.
func gjsonEscape(key string) string {
	r := strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`, "|", `\|`, "#", `\#`, "@", `\@`)
	return r.Replace(key)
}

package endpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"
)

// DefaultMaxBodyBytes bounds how much of a request body a `body` field reads.
var DefaultMaxBodyBytes int64 = 1 << 20

// Unmarshal populates dst (a non-nil pointer to a struct) from the request.
//
// Supported struct tags:
//   - `query:"name"`  first value of the query parameter
//   - `header:"Name"` first value of the request header
//   - `body:""`       the raw request body ([]byte or string), or a decoded
//     JSON value with `body:",json"`
//
// Supported field kinds are string, []byte, bool, signed integers and
// pointers to those. A pointer field stays nil when the source is absent,
// which lets endpoints tell "missing" from "zero". Values that fail to
// convert produce a 400 EndpointError.
func Unmarshal(r *http.Request, dst any) error {
	if r == nil {
		return Error(http.StatusInternalServerError, "", errors.New("endpoint: decode: nil request"))
	}
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return Error(http.StatusInternalServerError, "", errors.New("endpoint: decode: dst must be a non-nil pointer"))
	}
	root := v.Elem()
	if root.Kind() != reflect.Struct {
		return Error(http.StatusInternalServerError, "", errors.New("endpoint: decode: dst must point to a struct"))
	}

	t := root.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		fv := root.Field(i)

		if name, ok := sf.Tag.Lookup("query"); ok {
			if r.URL == nil {
				continue
			}
			q := r.URL.Query()
			key := tagName(name, sf.Name)
			if _, present := q[key]; !present {
				continue
			}
			if err := setField(fv, q.Get(key)); err != nil {
				return Error(http.StatusBadRequest, "invalid query parameter "+key, err)
			}
			continue
		}

		if name, ok := sf.Tag.Lookup("header"); ok {
			key := tagName(name, sf.Name)
			values := r.Header.Values(key)
			if len(values) == 0 {
				continue
			}
			if err := setField(fv, values[0]); err != nil {
				return Error(http.StatusBadRequest, "invalid header "+key, err)
			}
			continue
		}

		if tag, ok := sf.Tag.Lookup("body"); ok {
			if err := decodeBody(r, fv, tag); err != nil {
				return err
			}
		}
	}
	return nil
}

func tagName(tag, fieldName string) string {
	name, _, _ := strings.Cut(tag, ",")
	if name == "" {
		return strings.ToLower(fieldName)
	}
	return name
}

func decodeBody(r *http.Request, fv reflect.Value, tag string) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, DefaultMaxBodyBytes+1))
	if err != nil {
		return Error(http.StatusBadRequest, "failed to read request body", err)
	}
	if int64(len(data)) > DefaultMaxBodyBytes {
		return Error(http.StatusRequestEntityTooLarge, "request body too large", nil)
	}

	_, flags, _ := strings.Cut(tag, ",")
	if flags == "json" {
		if err := json.Unmarshal(data, fv.Addr().Interface()); err != nil {
			return Error(http.StatusBadRequest, "Invalid JSON", err)
		}
		return nil
	}

	switch {
	case fv.Kind() == reflect.String:
		fv.SetString(string(data))
	case fv.Kind() == reflect.Slice && fv.Type().Elem().Kind() == reflect.Uint8:
		fv.SetBytes(data)
	default:
		return Error(http.StatusInternalServerError, "", fmt.Errorf("endpoint: decode: unsupported body field type %s", fv.Type()))
	}
	return nil
}

func setField(fv reflect.Value, raw string) error {
	if fv.Kind() == reflect.Pointer {
		elem := reflect.New(fv.Type().Elem())
		if err := setField(elem.Elem(), raw); err != nil {
			return err
		}
		fv.Set(elem)
		return nil
	}

	switch fv.Kind() {
	case reflect.String:
		fv.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return err
		}
		fv.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, fv.Type().Bits())
		if err != nil {
			return err
		}
		fv.SetInt(n)
	case reflect.Slice:
		if fv.Type().Elem().Kind() != reflect.Uint8 {
			return fmt.Errorf("unsupported slice type %s", fv.Type())
		}
		fv.SetBytes([]byte(raw))
	default:
		return fmt.Errorf("unsupported field type %s", fv.Type())
	}
	return nil
}

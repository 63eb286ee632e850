package transportutil

import (
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/golangci/repohealth/internal/api/apierrors"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
)

const (
	urlPartType  = "urlPart"
	urlParamType = "urlParam"
)

// DecodeRequest fills fields of the struct pointed by request. Every field is
// a pointer to a struct with fields tagged `request:"name,urlPart|urlParam,required|optional"`.
func DecodeRequest(request interface{}, r *http.Request) error {
	val := reflect.ValueOf(request)
	if val.Type().Kind() != reflect.Ptr {
		return fmt.Errorf("invalid request type %s, pointer expected", val.Type().Kind())
	}
	val = val.Elem()

	for i := 0; i < val.NumField(); i++ {
		f := val.Field(i)
		if !f.CanSet() {
			continue
		}

		if err := decodeRequestField(f, r); err != nil {
			return errors.Wrapf(apierrors.ErrBadRequest, "can't decode request field %s: %s",
				val.Type().Field(i).Name, err)
		}
	}

	return nil
}

type requestTag struct {
	name     string
	kind     string
	required bool
}

func parseRequestTag(rf reflect.StructField) (*requestTag, error) {
	parts := strings.Split(rf.Tag.Get("request"), ",")
	if len(parts) != 3 {
		return nil, fmt.Errorf("bad tag %q of field %s", rf.Tag, rf.Name)
	}

	t := requestTag{
		name: strings.ToLower(parts[0]),
		kind: parts[1],
	}
	if t.name == "" {
		t.name = strings.ToLower(rf.Name)
	}
	if t.kind != urlPartType && t.kind != urlParamType {
		return nil, fmt.Errorf("invalid field type %q of field %s", t.kind, rf.Name)
	}

	switch parts[2] {
	case "", "required":
		t.required = true
	case "optional":
	default:
		return nil, fmt.Errorf("bad required flag %q of field %s", parts[2], rf.Name)
	}

	return &t, nil
}

func decodeRequestField(f reflect.Value, r *http.Request) error {
	if f.Kind() != reflect.Ptr || f.Type().Elem().Kind() != reflect.Struct {
		return fmt.Errorf("invalid field type %s, pointer to struct expected", f.Type())
	}

	ptrVal := reflect.New(f.Type().Elem())
	f.Set(ptrVal)

	sv := ptrVal.Elem()
	for i := 0; i < sv.NumField(); i++ {
		rf := sv.Type().Field(i)
		tag, err := parseRequestTag(rf)
		if err != nil {
			return err
		}

		var value string
		if tag.kind == urlPartType {
			value = mux.Vars(r)[tag.name]
		} else {
			value = r.URL.Query().Get(tag.name)
		}

		if value == "" {
			if tag.required {
				return fmt.Errorf("no required field %s", tag.name)
			}
			continue
		}

		if err := decodeRequestParamFromString(sv.Field(i), value); err != nil {
			return errors.Wrapf(err, "failed to decode field %s value %q", tag.name, value)
		}
	}

	return nil
}

func decodeRequestParamFromString(param reflect.Value, s string) error {
	switch param.Kind() {
	case reflect.String:
		param.SetString(s)
	case reflect.Int:
		v, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return fmt.Errorf("can't parse number from %q: %s", s, err)
		}
		param.SetInt(v)
	default:
		return fmt.Errorf("unsupported type %s", param.Kind())
	}

	return nil
}

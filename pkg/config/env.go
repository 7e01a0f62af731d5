package config

import (
	"reflect"
	"strings"

	"github.com/spf13/viper"
)

// bindEnvs registers every struct key of Config with viper so PLEVY_*
// variables reach Unmarshal even when the key is absent from the file.
// Backend option maps are free-form and are not bound.
func bindEnvs(v *viper.Viper) {
	bindStruct(v, reflect.TypeOf(Config{}), "")
}

func bindStruct(v *viper.Viper, t reflect.Type, prefix string) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		tag := strings.Split(f.Tag.Get("mapstructure"), ",")[0]
		if tag == "" || tag == "-" {
			continue
		}

		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}

		switch f.Type.Kind() {
		case reflect.Struct:
			bindStruct(v, f.Type, key)
		case reflect.Map:
			continue
		default:
			_ = v.BindEnv(key)
		}
	}
}

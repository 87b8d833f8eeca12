package config

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ReloadFunc receives a freshly decoded copy of the config after the file changed.
// The value passed is a pointer of the same type as the one given to LoadAndWatch.
type ReloadFunc func(e fsnotify.Event, fresh interface{}, err error)

// LoadAndWatch 读取 config/{service}.yaml（或当前目录），环境变量覆盖，并监听文件变更。
//
// 环境变量前缀为服务名大写，'-' 与 '.' 都替换成 '_'，例如：
//
//	TRAFFIC_REALTIME_POLL_INTERVAL 覆盖 poll.interval
//
// 变更时不会改写 out（运行中的组件正在读它），而是解码出一份新值交给 onReload。
func LoadAndWatch(service string, out interface{}, onReload ReloadFunc) (*viper.Viper, error) {
	v, err := Load(service, out)
	if err != nil {
		return nil, err
	}
	if onReload == nil {
		return v, nil
	}

	typ := reflect.TypeOf(out)
	v.OnConfigChange(func(e fsnotify.Event) {
		fresh := reflect.New(typ.Elem()).Interface()
		onReload(e, fresh, v.Unmarshal(fresh))
	})
	v.WatchConfig()
	return v, nil
}

// Load reads the config once without watching.
func Load(service string, out interface{}) (*viper.Viper, error) {
	if out == nil || reflect.TypeOf(out).Kind() != reflect.Ptr {
		return nil, fmt.Errorf("config: out must be a non-nil pointer, got %T", out)
	}

	v := viper.New()
	v.SetConfigName(service)
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.SetEnvPrefix(strings.ReplaceAll(strings.ToUpper(service), "-", "_"))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", service, err)
	}
	if err := v.Unmarshal(out); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", service, err)
	}
	return v, nil
}

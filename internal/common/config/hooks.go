package config

import (
	"reflect"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/hypervideo/client-simulator/pkg/api"
)

var CustomHooks = []viper.DecoderConfigOption{
	viper.DecodeHook(TransportHookFunc()),
	viper.DecodeHook(ResolutionHookFunc()),
	viper.DecodeHook(NoiseSuppressionHookFunc()),
	viper.DecodeHook(FakeMediaHookFunc()),
	viper.DecodeHook(StrategyKindHookFunc()),
}

func TransportHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		// check that src and target types are valid
		if f.Kind() != reflect.String || t != reflect.TypeOf(api.TransportWebTransport) {
			return data, nil
		}
		return api.ParseTransport(data.(string))
	}
}

func ResolutionHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(api.ResolutionAuto) {
			return data, nil
		}
		return api.ParseResolution(data.(string))
	}
}

func NoiseSuppressionHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(api.NoiseSuppressionNone) {
			return data, nil
		}
		return api.ParseNoiseSuppression(data.(string))
	}
}

func FakeMediaHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(api.FakeMediaNone) {
			return data, nil
		}
		return api.ParseFakeMedia(data.(string))
	}
}

func StrategyKindHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(api.StrategyProtocol) {
			return data, nil
		}
		return api.ParseStrategyKind(data.(string))
	}
}

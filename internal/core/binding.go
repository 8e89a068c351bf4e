package core

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"

	"github.com/Alwanly/conduit/pkg/poll"
	"github.com/Alwanly/conduit/pkg/validator"
)

// BindParameters decodes params into the fields of target tagged `uri:"name"`.
// Every parameter that was bound is removed from params; the rest are left
// for CheckUnknownParameters. Durations accept Go syntax or plain milliseconds.
func BindParameters(uri string, params Parameters, target any) error {
	input := make(map[string]any, len(params))
	for k, v := range params {
		input[k] = v
	}

	md := &mapstructure.Metadata{}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "uri",
		Squash:           true,
		WeaklyTypedInput: true,
		Metadata:         md,
		Result:           target,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			millisDurationHook(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return NewResolveEndpointError(uri, "cannot bind parameters", err)
	}
	if err := dec.Decode(input); err != nil {
		return NewResolveEndpointError(uri, "invalid parameter value", err)
	}

	unused := make(map[string]struct{}, len(md.Unused))
	for _, k := range md.Unused {
		unused[k] = struct{}{}
	}
	for k := range params {
		if _, ok := unused[k]; !ok {
			delete(params, k)
		}
	}

	if err := validator.ValidateStruct(target); err != nil {
		return NewResolveEndpointError(uri, "invalid endpoint configuration", err)
	}
	return nil
}

// CheckUnknownParameters fails when any parameter was not consumed by the endpoint.
func CheckUnknownParameters(uri string, params Parameters) error {
	if len(params) == 0 {
		return nil
	}
	pairs := make([]string, 0, len(params))
	for _, k := range params.Keys() {
		pairs = append(pairs, k+"="+params[k])
	}
	return NewResolveEndpointError(uri, fmt.Sprintf(
		"There are %d parameters that couldn't be set on the endpoint."+
			" Check the uri if the parameters are spelt correctly and that they are properties of the endpoint."+
			" Unknown parameters=[{%s}]", len(params), strings.Join(pairs, ", ")), nil)
}

func millisDurationHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(time.Duration(0)) || from.Kind() != reflect.String {
			return data, nil
		}
		s := strings.TrimSpace(data.(string))
		if s == "" {
			return time.Duration(0), nil
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.Duration(ms) * time.Millisecond, nil
		}
		return time.ParseDuration(s)
	}
}

// PollOptions are the scheduling parameters shared by polling consumers.
type PollOptions struct {
	InitialDelay             time.Duration `uri:"initialDelay" validate:"gte=0"`
	Delay                    time.Duration `uri:"delay" validate:"gte=0"`
	RepeatCount              int64         `uri:"repeatCount" validate:"gte=0"`
	Greedy                   bool          `uri:"greedy"`
	BackoffMultiplier        int           `uri:"backoffMultiplier" validate:"gte=0"`
	BackoffIdleThreshold     int           `uri:"backoffIdleThreshold" validate:"gte=0"`
	BackoffErrorThreshold    int           `uri:"backoffErrorThreshold" validate:"gte=0"`
	SendEmptyMessageWhenIdle bool          `uri:"sendEmptyMessageWhenIdle"`
}

func DefaultPollOptions() PollOptions {
	cfg := poll.DefaultConfig()
	return PollOptions{InitialDelay: cfg.InitialDelay, Delay: cfg.Delay}
}

func (o PollOptions) Config() poll.Config {
	return poll.Config{
		InitialDelay:             o.InitialDelay,
		Delay:                    o.Delay,
		RepeatCount:              o.RepeatCount,
		Greedy:                   o.Greedy,
		BackoffMultiplier:        o.BackoffMultiplier,
		BackoffIdleThreshold:     o.BackoffIdleThreshold,
		BackoffErrorThreshold:    o.BackoffErrorThreshold,
		SendEmptyMessageWhenIdle: o.SendEmptyMessageWhenIdle,
	}
}

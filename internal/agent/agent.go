// Package agent maps named actions carrying loosely typed arguments onto
// controller operations, the way a remote management agent receives them.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/go-viper/mapstructure/v2"
	"github.com/google/uuid"

	"github.com/loykin/emuctl/internal/artifact"
	"github.com/loykin/emuctl/internal/controller"
	"github.com/loykin/emuctl/internal/process"
)

// ErrUnknownAction is returned for action names the dispatcher does not serve.
var ErrUnknownAction = errors.New("unknown action")

// Controller is the part of the lifecycle controller the dispatcher drives.
type Controller interface {
	Download(ctx context.Context, url, target string) (artifact.Result, error)
	Start(ctx context.Context, kind process.Kind, req process.Request) (controller.Status, error)
	Stop(ctx context.Context, kind process.Kind, req controller.StopRequest) (controller.Status, error)
	Status(ctx context.Context, kind process.Kind, port int) (controller.Status, error)
}

// Reply is the outcome of one dispatched action.
type Reply struct {
	RequestID string `json:"request_id"`
	Action    string `json:"action"`
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	Data      any    `json:"data,omitempty"`
}

// DownloadRequest are the arguments of the download action.
type DownloadRequest struct {
	HTTP   string `mapstructure:"http"`
	Target string `mapstructure:"target"`
}

// StatusRequest are the arguments of the status action.
type StatusRequest struct {
	Kind string `mapstructure:"kind"`
	Port int    `mapstructure:"port"`
}

type handler func(ctx context.Context, args map[string]any) (any, error)

// notice is an outcome worth reporting that does not fail the action: the
// caller reads Data and decides what to do next.
type notice string

func (n notice) Error() string { return string(n) }

// Dispatcher runs actions against a Controller.
type Dispatcher struct {
	ctl      Controller
	logger   *slog.Logger
	handlers map[string]handler
}

func New(ctl Controller, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{ctl: ctl, logger: logger.With("component", "agent")}
	d.handlers = map[string]handler{
		"download":         d.download,
		"start":            d.start(process.KindEmulator),
		"stop":             d.stop(process.KindEmulator),
		"emulator_status":  d.emulatorStatus,
		"start_nats":       d.start(process.KindNATS),
		"stop_nats":        d.stop(process.KindNATS),
		"start_federation": d.start(process.KindFederation),
		"stop_federation":  d.stop(process.KindFederation),
		"status":           d.status,
	}
	return d
}

// Actions lists the served action names in sorted order.
func (d *Dispatcher) Actions() []string {
	out := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Dispatch runs action with args. Failures are reported in the reply, never
// as a Go error, so every request gets exactly one answer.
func (d *Dispatcher) Dispatch(ctx context.Context, action string, args map[string]any) Reply {
	r := Reply{RequestID: uuid.NewString(), Action: action}
	log := d.logger.With("request_id", r.RequestID, "action", action)

	h, ok := d.handlers[action]
	if !ok {
		r.Message = fmt.Sprintf("%v: %q", ErrUnknownAction, action)
		log.Warn("rejected", "error", r.Message)
		return r
	}
	data, err := h(ctx, args)
	r.Data = data
	var n notice
	if errors.As(err, &n) {
		r.Success = true
		r.Message = n.Error()
		log.Warn("action done", "notice", r.Message)
		return r
	}
	if err != nil {
		r.Message = err.Error()
		log.Error("action failed", "error", err)
		return r
	}
	r.Success = true
	log.Info("action done")
	return r
}

// decode fills out from args; strings such as "5" or "true" are accepted for
// numeric and boolean fields.
func decode(args map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(args); err != nil {
		return fmt.Errorf("%w: %w", process.ErrInvalidRequest, err)
	}
	return nil
}

func (d *Dispatcher) download(ctx context.Context, args map[string]any) (any, error) {
	var req DownloadRequest
	if err := decode(args, &req); err != nil {
		return nil, err
	}
	if req.HTTP == "" || req.Target == "" {
		return nil, fmt.Errorf("%w: http and target are required", process.ErrInvalidRequest)
	}
	res, err := d.ctl.Download(ctx, req.HTTP, req.Target)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// startArgs decodes a start request. The emulator's HTTP port travels as
// "monitor" in the action arguments.
func startArgs(args map[string]any) (process.Request, error) {
	var req process.Request
	if err := decode(args, &req); err != nil {
		return req, err
	}
	if v, ok := args["monitor"]; ok && req.HTTPPort == 0 {
		var m struct {
			Monitor int `mapstructure:"monitor"`
		}
		if err := decode(map[string]any{"monitor": v}, &m); err != nil {
			return req, err
		}
		req.HTTPPort = m.Monitor
	}
	return req, nil
}

func (d *Dispatcher) start(kind process.Kind) handler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		req, err := startArgs(args)
		if err != nil {
			return nil, err
		}
		st, err := d.ctl.Start(ctx, kind, req)
		if err != nil {
			return nil, err
		}
		if !st.Running {
			return st, notice(fmt.Sprintf("%s was launched but is not running", kind))
		}
		return st, nil
	}
}

func (d *Dispatcher) stop(kind process.Kind) handler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		var req controller.StopRequest
		if err := decode(args, &req); err != nil {
			return nil, err
		}
		st, err := d.ctl.Stop(ctx, kind, req)
		if err != nil {
			return nil, err
		}
		if st.Running {
			return st, notice(fmt.Sprintf("%s is still running after the kill signal", kind))
		}
		return st, nil
	}
}

func (d *Dispatcher) emulatorStatus(ctx context.Context, args map[string]any) (any, error) {
	var req StatusRequest
	if err := decode(args, &req); err != nil {
		return nil, err
	}
	return d.ctl.Status(ctx, process.KindEmulator, req.Port)
}

func (d *Dispatcher) status(ctx context.Context, args map[string]any) (any, error) {
	var req StatusRequest
	if err := decode(args, &req); err != nil {
		return nil, err
	}
	kind, err := process.ParseKind(req.Kind)
	if err != nil {
		return nil, err
	}
	return d.ctl.Status(ctx, kind, req.Port)
}

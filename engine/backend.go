package engine

import (
	"fmt"

	"go.uber.org/zap"

	iface "VinoInferServer/interface"
	"VinoInferServer/logger"
)

// Backend names accepted in config.
const (
	BackendDNN = "dnn"
	BackendORT = "ort"
)

// New builds an engine for the model on the configured backend.
func New(cfg Config, model iface.Model) (iface.Engine, error) {
	switch cfg.Backend {
	case BackendDNN, "":
		eng, err := NewDNN(cfg, model)
		if err != nil {
			return nil, err
		}
		logger.Log().Info("engine ready",
			zap.String("backend", BackendDNN),
			zap.String("model", model.Name()),
			zap.Bool("useGPU", cfg.UseGPU))
		return eng, nil
	case BackendORT:
		eng, err := NewORT(cfg, model)
		if err != nil {
			return nil, err
		}
		logger.Log().Info("engine ready",
			zap.String("backend", BackendORT),
			zap.String("model", model.Name()))
		return eng, nil
	default:
		return nil, fmt.Errorf("engine: unsupported backend %q", cfg.Backend)
	}
}

package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"VinoInferServer/engine"
	"VinoInferServer/inferences"
	iface "VinoInferServer/interface"
	"VinoInferServer/logger"
	"VinoInferServer/models"
	"VinoInferServer/monitor"
	"VinoInferServer/outputs"
	"VinoInferServer/pipeline"
)

type modelsConfig struct {
	FaceDetection models.Config `yaml:"faceDetection"`
	HeadPose      models.Config `yaml:"headPose"`
	AgeGender     models.Config `yaml:"ageGender"`
	Emotions      models.Config `yaml:"emotions"`
}

type configStruct struct {
	HTTPPort       int           `yaml:"HTTPPort"`
	MonitorPort    int           `yaml:"MonitorPort"`
	PipelinesNum   int           `yaml:"pipelinesNum"`
	Confidence     float32       `yaml:"confidence"`
	FetchTimeoutMs int           `yaml:"fetchTimeoutMs"`
	Engine         engine.Config `yaml:"engine"`
	Models         modelsConfig  `yaml:"models"`
}

// buildPipeline constructs one complete pipeline worker: every configured
// model gets its own engine instance so requests from different units never
// contend for the same network.
func buildPipeline(cfg configStruct) (*pipeline.Pipeline, error) {
	timeout := time.Duration(cfg.FetchTimeoutMs) * time.Millisecond

	newUnit := func(mc models.Config) (iface.Model, iface.Engine, error) {
		desc, err := models.FromConfig(mc)
		if err != nil {
			return nil, nil, err
		}
		eng, err := engine.New(cfg.Engine, desc)
		if err != nil {
			return nil, nil, err
		}
		return desc, eng, nil
	}

	faceModel, faceEng, err := newUnit(cfg.Models.FaceDetection)
	if err != nil {
		return nil, fmt.Errorf("face detection: %w", err)
	}
	detector := inferences.NewFaceDetection(faceEng, cfg.Confidence, timeout)
	if err := detector.LoadNetwork(faceModel); err != nil {
		return nil, err
	}

	var pose *inferences.HeadPoseEstimation
	if cfg.Models.HeadPose.Path != "" {
		m, eng, err := newUnit(cfg.Models.HeadPose)
		if err != nil {
			return nil, fmt.Errorf("head pose: %w", err)
		}
		pose = inferences.NewHeadPoseEstimation(eng, timeout)
		if err := pose.LoadNetwork(m); err != nil {
			return nil, err
		}
	}

	var ageGender *inferences.AgeGenderRecognition
	if cfg.Models.AgeGender.Path != "" {
		m, eng, err := newUnit(cfg.Models.AgeGender)
		if err != nil {
			return nil, fmt.Errorf("age gender: %w", err)
		}
		ageGender = inferences.NewAgeGenderRecognition(eng, timeout)
		if err := ageGender.LoadNetwork(m); err != nil {
			return nil, err
		}
	}

	var emotions *inferences.EmotionsRecognition
	if cfg.Models.Emotions.Path != "" {
		m, eng, err := newUnit(cfg.Models.Emotions)
		if err != nil {
			return nil, fmt.Errorf("emotions: %w", err)
		}
		emotions = inferences.NewEmotionsRecognition(eng, timeout)
		if err := emotions.LoadNetwork(m); err != nil {
			return nil, err
		}
	}

	return pipeline.New(detector, pose, ageGender, emotions, outputs.NewLogOutput())
}

func main() {
	if err := logger.InitProduction(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		return
	}
	defer logger.Sync()

	configData, err := os.ReadFile("config.yaml")
	if err != nil {
		logger.Log().Error("failed to read config file", zap.Error(err))
		return
	}
	config := configStruct{}
	if err := yaml.Unmarshal(configData, &config); err != nil {
		logger.Log().Error("failed to parse config file", zap.Error(err))
		return
	}

	CPUNum := runtime.NumCPU()
	fmt.Println(strings.Repeat("#", 64))
	fmt.Printf("CPU Cores: %d\n", CPUNum)
	fmt.Println("  HTTP Port:", config.HTTPPort)
	fmt.Println("Monitor Port:", config.MonitorPort)
	fmt.Println("Configured Pipelines Num:", config.PipelinesNum)
	fmt.Println("Engine Backend:", config.Engine.Backend)
	fmt.Println(strings.Repeat("#", 64))

	if config.PipelinesNum <= 0 {
		config.PipelinesNum = 1
		logger.Log().Warn("invalid pipelinesNum in config, defaulting to 1")
	} else if config.PipelinesNum > CPUNum {
		logger.Log().Warn("pipelinesNum exceeds CPU cores, performance may degrade",
			zap.Int("pipelinesNum", config.PipelinesNum), zap.Int("cores", CPUNum))
	}
	if config.Confidence <= 0 || config.Confidence > 1 {
		config.Confidence = 0.5
	}

	build := func() (*pipeline.Pipeline, error) { return buildPipeline(config) }
	for i := 0; i < config.PipelinesNum; i++ {
		if _, err := addWorker("Pipeline Worker", build); err != nil {
			logger.Log().Error("failed to create worker", zap.Int("index", i), zap.Error(err))
			return
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go monitor.StartMon(config.MonitorPort, ctx)

	logger.Log().Info("starting HTTP server", zap.Int("port", config.HTTPPort))
	if err := runServer(config.HTTPPort, build); err != nil {
		logger.Log().Error("HTTP server exited", zap.Error(err))
	}
}

package main

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"VinoInferServer/logger"
	"VinoInferServer/monitor"
	"VinoInferServer/pipeline"
)

const (
	IDLE = 0x1001
	BUSY = 0x1002
)

type worker struct {
	mu          sync.Mutex
	State       int
	Description string
	pipe        *pipeline.Pipeline
}

type instance struct {
	id     string
	worker *worker

	// mu guards conn and lastActive, written by the websocket handler and
	// read by the idle monitor and release path.
	mu          sync.Mutex
	lastActive  time.Time
	conn        *websocket.Conn
	closeOnce   sync.Once
	cancelTimer chan struct{}
	cancelOnce  sync.Once
}

func (inst *instance) attach(conn *websocket.Conn) {
	inst.mu.Lock()
	inst.conn = conn
	inst.mu.Unlock()
}

func (inst *instance) touch() {
	inst.mu.Lock()
	inst.lastActive = time.Now()
	inst.mu.Unlock()
}

func (inst *instance) idleFor() time.Duration {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return time.Since(inst.lastActive)
}

var (
	seqMu     sync.RWMutex
	workers   = map[string]*worker{}
	sessionMu sync.RWMutex
	sessions  = map[string]*instance{}
	upgrader  = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
	idleTimeout = 30 * time.Second
)

// Wire shapes shared with the client SDK.

type poseReply struct {
	Yaw   float32 `json:"yaw"`
	Pitch float32 `json:"pitch"`
	Roll  float32 `json:"roll"`
}

type faceReply struct {
	Box        [4]int     `json:"box"` // x, y, width, height in frame coordinates
	Confidence float32    `json:"confidence"`
	Pose       *poseReply `json:"pose,omitempty"`
	Age        *float32   `json:"age,omitempty"`
	MaleProb   *float32   `json:"maleProb,omitempty"`
	Emotion    string     `json:"emotion,omitempty"`
}

type frameReply struct {
	Success bool        `json:"success"`
	Error   string      `json:"error,omitempty"`
	Faces   []faceReply `json:"faces"`
}

func addWorker(description string, build func() (*pipeline.Pipeline, error)) (string, error) {
	pipe, err := build()
	if err != nil {
		return "", err
	}
	w := &worker{
		State:       IDLE,
		Description: description,
		pipe:        pipe,
	}
	id := uuid.New().String()
	seqMu.Lock()
	workers[id] = w
	seqMu.Unlock()
	logger.Log().Info("worker created", zap.String("id", id), zap.String("description", description))
	return id, nil
}

func allocInstance() (string, string, error) {
	seqMu.RLock()
	var chosenID string
	var chosen *worker
	for id, w := range workers {
		w.mu.Lock()
		if w.State == IDLE {
			w.State = BUSY
			chosenID = id
			chosen = w
			w.mu.Unlock()
			break
		}
		w.mu.Unlock()
	}
	seqMu.RUnlock()
	if chosen == nil {
		return "", "", errors.New("no available workers")
	}

	sessionID := uuid.New().String()
	inst := &instance{
		id:          sessionID,
		worker:      chosen,
		lastActive:  time.Now(),
		cancelTimer: make(chan struct{}),
	}

	sessionMu.Lock()
	sessions[sessionID] = inst
	sessionMu.Unlock()

	return sessionID, chosenID, nil
}

func releaseInstance(sessionID string) bool {
	sessionMu.Lock()
	inst, ok := sessions[sessionID]
	if ok {
		delete(sessions, sessionID)
	}
	sessionMu.Unlock()
	if !ok {
		return false
	}

	inst.closeOnce.Do(func() {
		inst.mu.Lock()
		conn := inst.conn
		inst.mu.Unlock()
		if conn != nil {
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session released"))
			_ = conn.Close()
		}
	})
	inst.cancelOnce.Do(func() {
		close(inst.cancelTimer)
	})
	inst.worker.mu.Lock()
	inst.worker.State = IDLE
	inst.worker.mu.Unlock()
	return true
}

func startIdleMonitor(inst *instance) {
	go func() {
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-inst.cancelTimer:
				return
			case <-ticker.C:
				if inst.idleFor() > idleTimeout {
					_ = releaseInstance(inst.id)
					logger.Log().Info("session idle timeout", zap.String("session", inst.id))
					return
				}
			}
		}
	}()
}

// Base64ToMat decodes a base64 string (optionally with a data URL prefix)
// into a gocv.Mat.
func Base64ToMat(b64 string) (gocv.Mat, error) {
	if i := strings.Index(b64, ","); i != -1 && strings.HasPrefix(b64, "data:") {
		b64 = b64[i+1:]
	}

	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return gocv.NewMat(), err
	}

	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return gocv.NewMat(), err
	}
	if mat.Empty() {
		if err := mat.Close(); err != nil {
			return gocv.Mat{}, err
		}
		return gocv.NewMat(), errors.New("decoded image is empty or unsupported format")
	}
	return mat, nil
}

func buildReply(reports []pipeline.FaceReport) frameReply {
	reply := frameReply{Success: true, Faces: make([]faceReply, 0, len(reports))}
	for _, rep := range reports {
		face := faceReply{
			Box:        [4]int{rep.Box.Min.X, rep.Box.Min.Y, rep.Box.Dx(), rep.Box.Dy()},
			Confidence: rep.Confidence,
		}
		if rep.Pose != nil {
			face.Pose = &poseReply{
				Yaw:   rep.Pose.AngleY(),
				Pitch: rep.Pose.AngleP(),
				Roll:  rep.Pose.AngleR(),
			}
		}
		if rep.AgeGender != nil {
			age := rep.AgeGender.Age()
			maleProb := rep.AgeGender.MaleProbability()
			face.Age = &age
			face.MaleProb = &maleProb
		}
		if rep.Emotion != nil {
			face.Emotion = rep.Emotion.Label()
		}
		reply.Faces = append(reply.Faces, face)
	}
	return reply
}

func runServer(port int, buildPipe func() (*pipeline.Pipeline, error)) error {
	r := gin.Default()
	r.GET("/api/ping", func(c *gin.Context) {
		monitor.HTTPTotal.Inc()
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.POST("/api/pipelines/init/:count", func(c *gin.Context) {
		monitor.HTTPTotal.Inc()
		countStr := c.Param("count")
		var count int
		_, err := fmt.Sscanf(countStr, "%d", &count)
		if err != nil || count <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid count"})
			return
		}

		var req struct {
			Description string `json:"description"`
		}
		_ = c.ShouldBindJSON(&req)
		if req.Description == "" {
			req.Description = "Pipeline Worker"
		}

		ids := make([]string, 0, count)
		for i := 0; i < count; i++ {
			id, err := addWorker(req.Description, buildPipe)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "data": ids})
				return
			}
			ids = append(ids, id)
		}

		c.JSON(http.StatusOK, gin.H{"data": ids})
	})
	r.GET("/api/pipelines/check/:id", func(c *gin.Context) {
		monitor.HTTPTotal.Inc()
		id := c.Param("id")
		seqMu.RLock()
		w, exists := workers[id]
		seqMu.RUnlock()
		if !exists {
			c.JSON(http.StatusNotFound, gin.H{"error": "Worker not found"})
			return
		}
		w.mu.Lock()
		state := w.State
		description := w.Description
		w.mu.Unlock()
		units := make([]string, 0, 4)
		for _, u := range w.pipe.Units() {
			units = append(units, u.Name())
		}
		c.JSON(http.StatusOK, gin.H{"data": gin.H{
			"state":       state,
			"description": description,
			"units":       units,
		}})
	})
	r.POST("/api/pipelines/alloc", func(c *gin.Context) {
		monitor.HTTPTotal.Inc()
		sessionID, workerID, err := allocInstance()
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "All workers are busy"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"sessionID": sessionID,
			"workerID":  workerID,
			"wsURL":     fmt.Sprintf("ws://%s/ws/%s", c.Request.Host, sessionID),
			"timeoutMs": idleTimeout.Milliseconds(),
		})
	})
	r.POST("/api/pipelines/:sessionID/release", func(c *gin.Context) {
		monitor.HTTPTotal.Inc()
		sessionID := c.Param("sessionID")
		if !releaseInstance(sessionID) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": "Session released"})
	})
	r.GET("/ws/:sessionID", func(c *gin.Context) {
		sessionID := c.Param("sessionID")
		sessionMu.RLock()
		inst, exists := sessions[sessionID]
		sessionMu.RUnlock()
		if !exists {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		inst.attach(conn)
		conn.SetReadLimit(20 * 1024 * 1024)

		startIdleMonitor(inst)
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				releaseInstance(sessionID)
				logger.Log().Info("connection closed",
					zap.String("session", sessionID), zap.Error(err))
				return
			}
			inst.touch()
			switch mt {
			case websocket.TextMessage:
				mat, err := Base64ToMat(string(msg))
				if err != nil {
					_ = conn.WriteJSON(frameReply{Error: fmt.Sprintf("invalid image: %v", err)})
					continue
				}
				reports, err := inst.worker.pipe.RunOnce(mat)
				_ = mat.Close()
				if err != nil {
					_ = conn.WriteJSON(frameReply{Error: fmt.Sprintf("inference error: %v", err)})
					continue
				}
				_ = conn.WriteJSON(buildReply(reports))
			default:
				_ = conn.WriteJSON(frameReply{Error: "unsupported message type"})
			}
		}
	})
	return r.Run(fmt.Sprintf(":%d", port))
}

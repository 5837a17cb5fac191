// Package client is a small SDK for the pipeline server's HTTP and
// websocket API.
package client

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
)

const (
	defaultTimeout = 10 * time.Second
	// maxUploadSide caps the longer side of an uploaded frame; larger frames
	// are downscaled before transmission to keep websocket messages small.
	maxUploadSide = 1920
	jpegQuality   = 90
)

// Client talks to the server's REST endpoints.
type Client struct {
	http *resty.Client
}

func New(baseURL string) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(defaultTimeout).
			SetHeader("Content-Type", "application/json"),
	}
}

// PoseReply mirrors the server's head pose payload.
type PoseReply struct {
	Yaw   float32 `json:"yaw"`
	Pitch float32 `json:"pitch"`
	Roll  float32 `json:"roll"`
}

// FaceReply mirrors the server's per-face payload.
type FaceReply struct {
	Box        [4]int     `json:"box"`
	Confidence float32    `json:"confidence"`
	Pose       *PoseReply `json:"pose,omitempty"`
	Age        *float32   `json:"age,omitempty"`
	MaleProb   *float32   `json:"maleProb,omitempty"`
	Emotion    string     `json:"emotion,omitempty"`
}

// FrameReply mirrors the server's per-frame response.
type FrameReply struct {
	Success bool        `json:"success"`
	Error   string      `json:"error,omitempty"`
	Faces   []FaceReply `json:"faces"`
}

type allocResponse struct {
	SessionID string `json:"sessionID"`
	WorkerID  string `json:"workerID"`
	WSURL     string `json:"wsURL"`
	TimeoutMs int64  `json:"timeoutMs"`
}

func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Get("/api/ping")
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("client: ping: %s", resp.Status())
	}
	return nil
}

// InitPipelines asks the server to create count pipeline workers and returns
// their ids.
func (c *Client) InitPipelines(ctx context.Context, count int, description string) ([]string, error) {
	var body struct {
		Data []string `json:"data"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"description": description}).
		SetResult(&body).
		Post(fmt.Sprintf("/api/pipelines/init/%d", count))
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("client: init pipelines: %s, body: %s", resp.Status(), resp.String())
	}
	return body.Data, nil
}

// Alloc reserves a worker and opens the websocket session bound to it.
func (c *Client) Alloc(ctx context.Context) (*Session, error) {
	var body allocResponse
	resp, err := c.http.R().SetContext(ctx).SetResult(&body).Post("/api/pipelines/alloc")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("client: alloc: %s, body: %s", resp.Status(), resp.String())
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, body.WSURL, nil)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", body.WSURL, err)
	}
	return &Session{
		ID:       body.SessionID,
		WorkerID: body.WorkerID,
		conn:     conn,
	}, nil
}

// Release frees the worker behind a session id.
func (c *Client) Release(ctx context.Context, sessionID string) error {
	resp, err := c.http.R().SetContext(ctx).
		Post(fmt.Sprintf("/api/pipelines/%s/release", sessionID))
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("client: release: %s", resp.Status())
	}
	return nil
}

// Session is one allocated worker reachable over its websocket.
type Session struct {
	ID       string
	WorkerID string
	conn     *websocket.Conn
}

// SendFrame pushes one frame through the session's pipeline and returns the
// decoded results. Oversized frames are downscaled before upload; returned
// boxes are in the coordinates of the image actually sent.
func (s *Session) SendFrame(img image.Image) (*FrameReply, error) {
	if img == nil {
		return nil, errors.New("client: nil image")
	}
	bounds := img.Bounds()
	if bounds.Dx() > maxUploadSide || bounds.Dy() > maxUploadSide {
		img = imaging.Fit(img, maxUploadSide, maxUploadSide, imaging.Lanczos)
	}

	var buf strings.Builder
	enc := base64.NewEncoder(base64.StdEncoding, &buf)
	if err := jpeg.Encode(enc, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("client: encode frame: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}

	if err := s.conn.WriteMessage(websocket.TextMessage, []byte(buf.String())); err != nil {
		return nil, fmt.Errorf("client: send frame: %w", err)
	}
	var reply FrameReply
	if err := s.conn.ReadJSON(&reply); err != nil {
		return nil, fmt.Errorf("client: read reply: %w", err)
	}
	if reply.Error != "" {
		return &reply, errors.New(reply.Error)
	}
	return &reply, nil
}

// SendFile loads an image from disk and runs it through SendFrame.
func (s *Session) SendFile(path string) (*FrameReply, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("client: open %s: %w", path, err)
	}
	return s.SendFrame(img)
}

// Close shuts the websocket down without releasing the worker; pair it with
// Client.Release.
func (s *Session) Close() error {
	_ = s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	return s.conn.Close()
}

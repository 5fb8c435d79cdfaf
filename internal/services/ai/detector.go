package ai

import (
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"crowdcounter/internal/config"
	"crowdcounter/internal/logger"
	"crowdcounter/internal/model"
)

// personClassID is the COCO class of the SSD MobileNet network for a person.
const personClassID = 1

// DetectorService finds people in a frame with an SSD MobileNet network.
type DetectorService struct {
	net        gocv.Net
	modelPath  string
	configPath string
	threshold  float32
	mu         sync.Mutex
	logger     *logger.Logger
}

// NewDetectorService loads the detection network. Every service owns its own
// network, so one service must not be shared between sources.
func NewDetectorService(cfg *config.Config, logger *logger.Logger) (*DetectorService, error) {
	service := &DetectorService{
		modelPath:  cfg.ModelPath,
		configPath: cfg.ModelConfigPath,
		threshold:  float32(cfg.DetectionThreshold),
		logger:     logger,
	}

	if err := service.initializeNet(); err != nil {
		return nil, err
	}
	return service, nil
}

func (s *DetectorService) initializeNet() error {
	if _, err := os.Stat(s.modelPath); os.IsNotExist(err) {
		return fmt.Errorf("model file not found: %s", s.modelPath)
	}

	if _, err := os.Stat(s.configPath); os.IsNotExist(err) {
		return fmt.Errorf("model config file not found: %s", s.configPath)
	}

	net := gocv.ReadNet(s.modelPath, s.configPath)
	if net.Empty() {
		return fmt.Errorf("failed to load network from %s", s.modelPath)
	}
	errBackend := net.SetPreferableBackend(gocv.NetBackendDefault)
	errTarget := net.SetPreferableTarget(gocv.NetTargetCPU)
	if errBackend != nil || errTarget != nil {
		net.Close()
		return fmt.Errorf("failed to set preferable backend or target")
	}

	s.net = net
	s.logger.Info("Detection network initialized from %s", s.modelPath)
	return nil
}

// DetectPeople returns the boxes of every person found above the confidence
// threshold, in frame pixels.
func (s *DetectorService) DetectPeople(mat gocv.Mat) ([]model.BBox, error) {
	if mat.Empty() {
		return nil, fmt.Errorf("frame is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.net.Empty() {
		return nil, fmt.Errorf("detection network not initialized")
	}

	blob := gocv.BlobFromImage(mat, 1.0/127.5, image.Pt(300, 300), gocv.NewScalar(127.5, 127.5, 127.5, 0), true, false)
	defer blob.Close()

	s.net.SetInput(blob, "")
	output := s.net.Forward("")
	defer output.Close()

	detections := output.Reshape(1, output.Total()/7)
	defer detections.Close()

	cols, rows := float64(mat.Cols()), float64(mat.Rows())
	var boxes []model.BBox
	for i := 0; i < detections.Rows(); i++ {
		confidence := detections.GetFloatAt(i, 2)
		if confidence < s.threshold {
			continue
		}
		if int(detections.GetFloatAt(i, 1)) != personClassID {
			continue
		}

		boxes = append(boxes, model.BBox{
			X1: float64(detections.GetFloatAt(i, 3)) * cols,
			Y1: float64(detections.GetFloatAt(i, 4)) * rows,
			X2: float64(detections.GetFloatAt(i, 5)) * cols,
			Y2: float64(detections.GetFloatAt(i, 6)) * rows,
		})
	}

	return boxes, nil
}

// Close releases the network.
func (s *DetectorService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.net.Close()
}

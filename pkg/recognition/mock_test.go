package recognition

import (
	"github.com/Kagami/go-face"
)

type MockFaceEngine struct {
	RecognizeFunc     func(data []byte) ([]face.Face, error)
	RecognizeFileFunc func(path string) ([]face.Face, error)
	CloseFunc         func()
}

func (m *MockFaceEngine) Recognize(data []byte) ([]face.Face, error) {
	if m.RecognizeFunc != nil {
		return m.RecognizeFunc(data)
	}
	return nil, nil
}

func (m *MockFaceEngine) RecognizeFile(path string) ([]face.Face, error) {
	if m.RecognizeFileFunc != nil {
		return m.RecognizeFileFunc(path)
	}
	return nil, nil
}

func (m *MockFaceEngine) Close() {
	if m.CloseFunc != nil {
		m.CloseFunc()
	}
}

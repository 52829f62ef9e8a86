// Package devserver локальный бэкенд для ручной проверки клиента:
// принимает кадры по WebSocket и каналу данных WebRTC, отвечает метками эмоций и эхом чата.
package devserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"

	"emotion-client/internal/application"
	"emotion-client/internal/domain"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Разрешаем все подключения
	},
}

type emotionReply struct {
	Emotion string `json:"emotion"`
}

type chatReply struct {
	Message string `json:"message"`
}

// Server обработчики конечных точек бэкенда
type Server struct {
	classifier Classifier
	recorder   *FrameRecorder
	logger     application.Logger

	mutex sync.Mutex
	peers map[*webrtc.PeerConnection]struct{}
}

// NewServer создает сервер; recorder может быть nil
func NewServer(classifier Classifier, recorder *FrameRecorder, logger application.Logger) *Server {
	if classifier == nil {
		classifier = BrightnessClassifier{}
	}
	return &Server{
		classifier: classifier,
		recorder:   recorder,
		logger:     logger,
		peers:      make(map[*webrtc.PeerConnection]struct{}),
	}
}

// Handler возвращает маршрутизатор с конечными точками /emotions/*
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/emotions/video", s.handleVideo)
	router.HandleFunc("/emotions/chat", s.handleChat)
	router.HandleFunc("/emotions/offer", s.handleOffer).Methods(http.MethodPost)
	router.HandleFunc("/", s.handleStatus).Methods(http.MethodGet)
	return router
}

// Close закрывает все соединения WebRTC
func (s *Server) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for pc := range s.peers {
		pc.Close()
	}
	s.peers = make(map[*webrtc.PeerConnection]struct{})
	return nil
}

// processFrame классифицирует кадр и сохраняет его, если включена запись
func (s *Server) processFrame(data []byte) (string, error) {
	var envelope domain.FrameEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return "", errors.Wrapf(domain.ErrProtocol, "конверт не разобран: %v", err)
	}

	img, raw, err := decodeEnvelope(envelope)
	if err != nil {
		return "", err
	}

	if s.recorder != nil {
		if _, err := s.recorder.Write(envelope.CorrelationID, envelope.Timestamp, raw); err != nil {
			s.logger.Error("Ошибка записи кадра: %v", err)
		}
	}

	return s.classifier.Classify(img), nil
}

func (s *Server) handleVideo(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Ошибка при апгрейде до WebSocket: %v", err)
		return
	}
	defer conn.Close()

	clientAddr := conn.RemoteAddr().String()
	s.logger.Info("Клиент подключен: %s", clientAddr)

	// Обработка входящих сообщений
	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			s.logger.Debug("Ошибка чтения: %v", err)
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}

		emotion, err := s.processFrame(message)
		if err != nil {
			s.logger.Warn("Кадр отклонен: %v", err)
			continue
		}

		if err := conn.WriteJSON(emotionReply{Emotion: emotion}); err != nil {
			s.logger.Error("Ошибка отправки метки: %v", err)
			break
		}
	}

	s.logger.Info("Клиент отключен: %s", clientAddr)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Ошибка при апгрейде до WebSocket: %v", err)
		return
	}
	defer conn.Close()

	for {
		var msg chatReply
		if err := conn.ReadJSON(&msg); err != nil {
			s.logger.Debug("Чат закрыт: %v", err)
			return
		}
		if msg.Message == "" {
			continue
		}
		if err := conn.WriteJSON(chatReply{Message: "эхо: " + msg.Message}); err != nil {
			return
		}
	}
}

// handleOffer принимает offer, отвечает answer со всеми кандидатами
func (s *Server) handleOffer(w http.ResponseWriter, r *http.Request) {
	var offer webrtc.SessionDescription
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil || offer.Type != webrtc.SDPTypeOffer {
		http.Error(w, "invalid offer", http.StatusBadRequest)
		return
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	pc.OnDataChannel(func(channel *webrtc.DataChannel) {
		s.logger.Info("Канал данных %s принят", channel.Label())
		channel.OnMessage(func(msg webrtc.DataChannelMessage) {
			emotion, err := s.processFrame(msg.Data)
			if err != nil {
				s.logger.Warn("Кадр отклонен: %v", err)
				return
			}
			reply, _ := json.Marshal(emotionReply{Emotion: emotion})
			if err := channel.SendText(string(reply)); err != nil {
				s.logger.Debug("Ошибка отправки метки: %v", err)
			}
		})
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.logger.Debug("WebRTC Connection State: %s", state.String())
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			s.forget(pc)
		}
	})

	if err := pc.SetRemoteDescription(offer); err != nil {
		pc.Close()
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	select {
	case <-gathered:
	case <-r.Context().Done():
		pc.Close()
		return
	}

	s.mutex.Lock()
	s.peers[pc] = struct{}{}
	s.mutex.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(pc.LocalDescription())
}

func (s *Server) forget(pc *webrtc.PeerConnection) {
	s.mutex.Lock()
	delete(s.peers, pc)
	s.mutex.Unlock()
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	recorded := 0
	if s.recorder != nil {
		recorded = s.recorder.Count()
	}

	w.Header().Set("Content-Type", "text/html")
	fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>Сервер распознавания эмоций</title></head>
<body>
	<h1>Сервер распознавания эмоций</h1>
	<p>✅ Сервер запущен и принимает соединения</p>
	<p>Записано кадров: %d</p>
</body>
</html>
`, recorded)
}

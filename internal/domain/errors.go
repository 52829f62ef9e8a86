package domain

import "github.com/pkg/errors"

var (
	// ErrPermissionDenied доступ к камере запрещен или камера недоступна
	ErrPermissionDenied = errors.New("нет доступа к камере")

	// ErrTransportUnavailable канал еще не открыт или уже закрыт
	ErrTransportUnavailable = errors.New("транспорт недоступен")

	// ErrProtocol некорректное входящее сообщение или ответ сигнального сервера
	ErrProtocol = errors.New("ошибка протокола")

	// ErrNetwork сбой сети при обмене offer/answer или при установке ICE
	ErrNetwork = errors.New("сетевая ошибка")

	// ErrEncodingFailure сжатие кадра дало пустой результат
	ErrEncodingFailure = errors.New("не удалось закодировать кадр")

	// ErrAlreadyEstablished сигнальный клиент уже использован
	ErrAlreadyEstablished = errors.New("соединение уже устанавливалось")
)

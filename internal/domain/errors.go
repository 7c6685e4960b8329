package domain

import "errors"

var (
	// ErrNotFound возвращается когда запись не найдена
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput возвращается при некорректных входных данных
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidWalletAddress адрес не похож на Solana pubkey
	ErrInvalidWalletAddress = errors.New("invalid wallet address")

	// ErrMalformedPosition снапшот позиции не проходит валидацию
	ErrMalformedPosition = errors.New("malformed position record")

	// ErrUnsupportedVenue DEX не поддерживается для исполнения
	ErrUnsupportedVenue = errors.New("unsupported venue")

	// ErrWalletNotConnected кошелек не подключен
	ErrWalletNotConnected = errors.New("wallet not connected")

	// ErrSignatureRejected кошелек отказал в подписи
	ErrSignatureRejected = errors.New("signature rejected")

	// ErrQueueEntryBusy запись очереди уже исполняется
	ErrQueueEntryBusy = errors.New("queue entry is already being executed")

	// ErrKillSwitchActive активирована аварийная остановка
	ErrKillSwitchActive = errors.New("kill switch is active")

	// ErrNotAutoExecutable one-click недоступен для этой записи
	ErrNotAutoExecutable = errors.New("entry requires explicit confirmation")

	// ErrSecurityRejected security gate отклонил исполнение
	ErrSecurityRejected = errors.New("rejected by security gate")

	// ErrDatabaseConnection возвращается при ошибке подключения к БД
	ErrDatabaseConnection = errors.New("database connection error")
)

// Package common — errors.go определяет ошибки, общие для всех модулей бота.
// Хранилище оборачивает ими свои ошибки, а координатор различает их через errors.Is.
package common

import "errors"

// Ошибки хранилища нарушений
var (
	// ErrStorageUnavailable — файл/соединение не открылось или запрос упал
	ErrStorageUnavailable = errors.New("хранилище недоступно")
	// ErrNotFound — запись не найдена (инкремент без предварительного create)
	ErrNotFound = errors.New("запись не найдена")
	// ErrDuplicateKey — запись для (user_id, space_id) уже существует
	ErrDuplicateKey = errors.New("запись уже существует")
)

// ErrInvalidConfig — некорректная конфигурация (пороги, длительности, пути)
var ErrInvalidConfig = errors.New("некорректная конфигурация")

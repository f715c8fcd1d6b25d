package service

import "clipforge/internal/domain"

// IsAuthorized проверяет право вызывающего изменять версию.
// Версия без владельца принадлежит всем (публичное владение),
// версия с владельцем принадлежит только ему. Флаг is_public здесь не
// участвует: он отвечает только за видимость, не за владение.
func IsAuthorized(callerID string, version *domain.Version) bool {
	// Публичное владение
	if version.OwnerID == nil {
		return true
	}

	// Приватное владение
	return callerID != "" && callerID == *version.OwnerID
}

// CanView проверяет право на просмотр и скачивание версии
func CanView(callerID string, version *domain.Version) bool {
	if version.IsPublic {
		return true
	}
	return IsAuthorized(callerID, version)
}

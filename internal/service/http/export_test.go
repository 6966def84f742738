package httpsvc

// RequestHash открывает вычисление хэша запроса для тестов.
var RequestHash = requestHash

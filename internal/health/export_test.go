package health

// CryptoRandDuration exports cryptoRandDuration for testing.
var CryptoRandDuration = cryptoRandDuration

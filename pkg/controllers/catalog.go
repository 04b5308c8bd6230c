package controllers

import (
	"errors"

	"github.com/fieldhand/agrichat/pkg/api"
	"github.com/fieldhand/agrichat/pkg/stream"
)

// Error classes used for user-facing messages and the retry policy.
const (
	classTimeout = "timeout"
	classNetwork = "network"
	classServer  = "server"
	classClient  = "client"
	classAborted = "aborted"
)

// classify maps a terminal stream outcome to an error class. Client-class
// (4xx) failures are detected first because the transport wraps them in a
// network error before the session sees them.
func classify(err error) string {
	switch {
	case errors.Is(err, stream.ErrTimeout):
		return classTimeout
	case errors.Is(err, stream.ErrAborted):
		return classAborted
	case api.IsClientError(err):
		return classClient
	}

	var serverErr *stream.ServerError
	if errors.As(err, &serverErr) {
		return classServer
	}

	var apiErr *api.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode >= 500 {
		return classServer
	}

	var netErr *stream.NetworkError
	if errors.As(err, &netErr) {
		return classNetwork
	}
	return classServer
}

// retryable reports whether an error class gets a retry affordance. Timeout,
// network, and server-class failures can succeed on replay; client-class
// cannot.
func retryable(class string) bool {
	switch class {
	case classTimeout, classNetwork, classServer:
		return true
	default:
		return false
	}
}

// The strings the core emits, keyed by language code with English fallback.
// The full localization tables belong to the mobile client.

var welcomeMessages = map[string]string{
	"en": "Hello! I'm your farming assistant. Ask me about your crops, soil, weather, or plant health.",
	"hi": "नमस्ते! मैं आपका कृषि सहायक हूँ। अपनी फसलों, मिट्टी, मौसम या पौधों के स्वास्थ्य के बारे में पूछें।",
	"sw": "Habari! Mimi ni msaidizi wako wa kilimo. Niulize kuhusu mazao yako, udongo, hali ya hewa au afya ya mimea.",
}

var errorMessages = map[string]map[string]string{
	"en": {
		classTimeout: "The answer took too long. Please try again.",
		classNetwork: "Could not reach the server. Check your connection and try again.",
		classServer:  "Something went wrong on our side. Please try again.",
		classClient:  "Sorry, that request could not be processed.",
	},
	"hi": {
		classTimeout: "उत्तर में बहुत समय लगा। कृपया फिर से प्रयास करें।",
		classNetwork: "सर्वर से संपर्क नहीं हो सका। अपना कनेक्शन जाँचें और फिर से प्रयास करें।",
		classServer:  "हमारी ओर से कुछ गड़बड़ हुई। कृपया फिर से प्रयास करें।",
		classClient:  "क्षमा करें, यह अनुरोध संसाधित नहीं हो सका।",
	},
	"sw": {
		classTimeout: "Jibu limechukua muda mrefu sana. Tafadhali jaribu tena.",
		classNetwork: "Imeshindikana kufikia seva. Angalia muunganisho wako kisha ujaribu tena.",
		classServer:  "Hitilafu imetokea upande wetu. Tafadhali jaribu tena.",
		classClient:  "Samahani, ombi hilo halikuweza kushughulikiwa.",
	},
}

func welcomeText(language string) string {
	if text, ok := welcomeMessages[language]; ok {
		return text
	}
	return welcomeMessages["en"]
}

func userFacingError(language, class string) string {
	table, ok := errorMessages[language]
	if !ok {
		table = errorMessages["en"]
	}
	if text, ok := table[class]; ok {
		return text
	}
	return errorMessages["en"][classServer]
}

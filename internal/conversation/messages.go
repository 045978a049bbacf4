package conversation

import (
	"fmt"
	"strings"

	"github.com/wolfman30/clinic-booking-assistant/internal/session"
)

type msgKey int

const (
	msgWelcome msgKey = iota
	msgWelcomeVoice
	msgMainMenu
	msgNotUnderstood
	msgNamePrompt
	msgNamePromptVoice
	msgDatePrompt
	msgDatePromptVoice
	msgDateInvalid
	msgDatePast
	msgTimePrompt
	msgTimePromptVoice
	msgTimeInvalid
	msgTimePast
	msgConfirmSummary
	msgBookingAborted
	msgThankYou
	msgBookedVoice
	msgClinicClosed
	msgOutsideHours
	msgSlotBooked
	msgSlotBookedNoAlternatives
	msgSlotBusy
	msgCancelLookup
	msgCancelLookupVoice
	msgCancelNotFound
	msgCancelGiveUp
	msgCancelConfirm
	msgCancelled
	msgCancelKept
	msgApology
	msgPressDigit
	msgSessionExpired
	msgNoInput
	msgClinicNotFound
	msgLineUnavailable
	msgTextOnly
	msgReminder
)

var catalog = map[session.Language]map[msgKey]string{
	session.LanguageEnglish: {
		msgWelcome:                  "👋 Welcome to %s!\n\nನಮಸ್ಕಾರ, %s ಗೆ ಸ್ವಾಗತ!\n\nPlease choose your language / ದಯವಿಟ್ಟು ನಿಮ್ಮ ಭಾಷೆಯನ್ನು ಆಯ್ಕೆಮಾಡಿ:",
		msgWelcomeVoice:             "Welcome to %s. For English, press 1. ಕನ್ನಡಕ್ಕಾಗಿ 2 ಒತ್ತಿ.",
		msgMainMenu:                 "How can I help you today?",
		msgNotUnderstood:            "Sorry, I didn't understand. Please choose an option.",
		msgNamePrompt:               "Please enter your name:",
		msgNamePromptVoice:          "Please say your name after the beep, then press the hash key.",
		msgDatePrompt:               "Please enter your preferred appointment date (DD/MM/YYYY):",
		msgDatePromptVoice:          "Please enter the appointment date as eight digits: day, month and year. For example 1 0 0 3 2 0 2 5.",
		msgDateInvalid:              "Invalid date. Please enter in DD/MM/YYYY format:",
		msgDatePast:                 "That date has already passed. Please enter a future date (DD/MM/YYYY):",
		msgTimePrompt:               "Please enter your preferred time (HH:MM AM/PM):",
		msgTimePromptVoice:          "Please enter the time as four digits in 24 hour format. For example 1 0 3 0 for half past ten.",
		msgTimeInvalid:              "Invalid time. Please enter a time like 10:30 AM or 14:30:",
		msgTimePast:                 "That time has already passed today. Please enter a later time:",
		msgConfirmSummary:           "Please confirm:\n\nName: %s\nDate: %s\nTime: %s\n\nConfirm booking?",
		msgBookingAborted:           "Booking cancelled.",
		msgThankYou:                 "Thank you! See you at your appointment! 🏥",
		msgBookedVoice:              "Your appointment is confirmed for %s at %s. Your reference is %s. Thank you!",
		msgClinicClosed:             "Sorry, the clinic is closed on %s. Please enter another date (DD/MM/YYYY):",
		msgOutsideHours:             "Sorry, %s is outside our working hours (%s). Please enter another time:",
		msgSlotBooked:               "Sorry, %s is already booked. Available times: %s. Please enter another time:",
		msgSlotBookedNoAlternatives: "Sorry, there are no free times left on %s. Please enter another date (DD/MM/YYYY):",
		msgSlotBusy:                 "Someone else is booking that time right now. Please confirm again in a moment.",
		msgCancelLookup:             "Please enter the date of the appointment you want to cancel (DD/MM/YYYY), or send ANY for your next appointment:",
		msgCancelLookupVoice:        "To cancel, please enter your ten digit phone number.",
		msgCancelNotFound:           "We could not find an upcoming appointment. Please try again:",
		msgCancelGiveUp:             "We could not find an upcoming appointment for you.",
		msgCancelConfirm:            "Cancel the appointment for %s on %s at %s?",
		msgCancelled:                "Your appointment has been cancelled.",
		msgCancelKept:               "Okay, your appointment is kept.",
		msgApology:                  "Sorry, something went wrong. Please try again.",
		msgPressDigit:               "For %s, press %s.",
		msgSessionExpired:           "Session expired. Please call again.",
		msgNoInput:                  "We did not receive any input. Goodbye.",
		msgClinicNotFound:           "Sorry, clinic not found. Goodbye.",
		msgLineUnavailable:          "Sorry, our booking line is unavailable right now. Please call again in a few minutes. Goodbye.",
		msgTextOnly:                 "Sorry, I can only process text messages right now. Please send a text message.",
		msgReminder:                 "Hello %s,\n\nReminder: your appointment is on %s at %s.\n\nThank you!",
	},
	session.LanguageKannada: {
		msgMainMenu:                 "ನಿಮಗೆ ಹೇಗೆ ಸಹಾಯ ಮಾಡಬಹುದು?",
		msgNotUnderstood:            "ಕ್ಷಮಿಸಿ, ನನಗೆ ಅರ್ಥವಾಗಲಿಲ್ಲ. ದಯವಿಟ್ಟು ಆಯ್ಕೆಮಾಡಿ.",
		msgNamePrompt:               "ದಯವಿಟ್ಟು ನಿಮ್ಮ ಹೆಸರು ನಮೂದಿಸಿ:",
		msgNamePromptVoice:          "ದಯವಿಟ್ಟು ಬೀಪ್ ನಂತರ ನಿಮ್ಮ ಹೆಸರು ಹೇಳಿ, ನಂತರ ಹ್ಯಾಶ್ ಒತ್ತಿ.",
		msgDatePrompt:               "ದಯವಿಟ್ಟು ನಿಮ್ಮ ಅಪಾಯಿಂಟ್ಮೆಂಟ್ ದಿನಾಂಕವನ್ನು ನಮೂದಿಸಿ (DD/MM/YYYY):",
		msgDatePromptVoice:          "ದಯವಿಟ್ಟು ದಿನಾಂಕವನ್ನು ಎಂಟು ಅಂಕಿಗಳಲ್ಲಿ ನಮೂದಿಸಿ: ದಿನ, ತಿಂಗಳು, ವರ್ಷ.",
		msgDateInvalid:              "ಅಮಾನ್ಯ ದಿನಾಂಕ. ದಯವಿಟ್ಟು DD/MM/YYYY ಸ್ವರೂಪದಲ್ಲಿ ನಮೂದಿಸಿ:",
		msgDatePast:                 "ಆ ದಿನಾಂಕ ಈಗಾಗಲೇ ಕಳೆದಿದೆ. ದಯವಿಟ್ಟು ಮುಂದಿನ ದಿನಾಂಕ ನಮೂದಿಸಿ (DD/MM/YYYY):",
		msgTimePrompt:               "ದಯವಿಟ್ಟು ನಿಮ್ಮ ಆದ್ಯತೆಯ ಸಮಯವನ್ನು ನಮೂದಿಸಿ (HH:MM AM/PM):",
		msgTimePromptVoice:          "ದಯವಿಟ್ಟು ಸಮಯವನ್ನು 24 ಗಂಟೆಯ ಸ್ವರೂಪದಲ್ಲಿ ನಾಲ್ಕು ಅಂಕಿಗಳಲ್ಲಿ ನಮೂದಿಸಿ.",
		msgTimeInvalid:              "ಅಮಾನ್ಯ ಸಮಯ. ದಯವಿಟ್ಟು 10:30 AM ಅಥವಾ 14:30 ರೀತಿಯಲ್ಲಿ ನಮೂದಿಸಿ:",
		msgTimePast:                 "ಇಂದು ಆ ಸಮಯ ಈಗಾಗಲೇ ಕಳೆದಿದೆ. ದಯವಿಟ್ಟು ನಂತರದ ಸಮಯ ನಮೂದಿಸಿ:",
		msgConfirmSummary:           "ದೃಢೀಕರಿಸಿ:\n\nಹೆಸರು: %s\nದಿನಾಂಕ: %s\nಸಮಯ: %s\n\nದೃಢೀಕರಿಸುವುದೇ?",
		msgBookingAborted:           "ಅಪಾಯಿಂಟ್ಮೆಂಟ್ ರದ್ದುಗೊಳಿಸಲಾಗಿದೆ.",
		msgThankYou:                 "ಧನ್ಯವಾದಗಳು! ನಿಮ್ಮ ಅಪಾಯಿಂಟ್ಮೆಂಟ್‌ನಲ್ಲಿ ಭೇಟಿಯಾಗೋಣ! 🏥",
		msgBookedVoice:              "ನಿಮ್ಮ ಅಪಾಯಿಂಟ್‌ಮೆಂಟ್ %s ರ %s ಕ್ಕೆ ನಿಶ್ಚಿತವಾಗಿದೆ. ಉಲ್ಲೇಖ ಸಂಖ್ಯೆ %s. ಧನ್ಯವಾದಗಳು!",
		msgClinicClosed:             "ಕ್ಷಮಿಸಿ, %s ರಂದು ಕ್ಲಿನಿಕ್ ಮುಚ್ಚಿದೆ. ದಯವಿಟ್ಟು ಬೇರೆ ದಿನಾಂಕ ನಮೂದಿಸಿ (DD/MM/YYYY):",
		msgOutsideHours:             "ಕ್ಷಮಿಸಿ, %s ನಮ್ಮ ಕೆಲಸದ ಸಮಯದ (%s) ಹೊರಗಿದೆ. ದಯವಿಟ್ಟು ಬೇರೆ ಸಮಯ ನಮೂದಿಸಿ:",
		msgSlotBooked:               "ಕ್ಷಮಿಸಿ, %s ಈಗಾಗಲೇ ಬುಕ್ ಆಗಿದೆ. ಲಭ್ಯವಿರುವ ಸಮಯಗಳು: %s. ದಯವಿಟ್ಟು ಬೇರೆ ಸಮಯ ನಮೂದಿಸಿ:",
		msgSlotBookedNoAlternatives: "ಕ್ಷಮಿಸಿ, %s ರಂದು ಯಾವುದೇ ಸಮಯ ಲಭ್ಯವಿಲ್ಲ. ದಯವಿಟ್ಟು ಬೇರೆ ದಿನಾಂಕ ನಮೂದಿಸಿ (DD/MM/YYYY):",
		msgSlotBusy:                 "ಬೇರೆಯವರು ಈ ಸಮಯವನ್ನು ಈಗ ಬುಕ್ ಮಾಡುತ್ತಿದ್ದಾರೆ. ದಯವಿಟ್ಟು ಸ್ವಲ್ಪ ಸಮಯದ ನಂತರ ಮತ್ತೆ ದೃಢೀಕರಿಸಿ.",
		msgCancelLookup:             "ರದ್ದುಗೊಳಿಸಬೇಕಾದ ಅಪಾಯಿಂಟ್ಮೆಂಟ್ ದಿನಾಂಕವನ್ನು ನಮೂದಿಸಿ (DD/MM/YYYY), ಅಥವಾ ಮುಂದಿನ ಅಪಾಯಿಂಟ್ಮೆಂಟ್‌ಗಾಗಿ ANY ಕಳುಹಿಸಿ:",
		msgCancelLookupVoice:        "ರದ್ದು ಮಾಡಲು, ದಯವಿಟ್ಟು ನಿಮ್ಮ ಹತ್ತು ಅಂಕಿಯ ಫೋನ್ ನಂಬರ್ ನಮೂದಿಸಿ.",
		msgCancelNotFound:           "ಮುಂಬರುವ ಅಪಾಯಿಂಟ್ಮೆಂಟ್ ಸಿಗಲಿಲ್ಲ. ದಯವಿಟ್ಟು ಮತ್ತೆ ಪ್ರಯತ್ನಿಸಿ:",
		msgCancelGiveUp:             "ನಿಮಗಾಗಿ ಯಾವುದೇ ಮುಂಬರುವ ಅಪಾಯಿಂಟ್ಮೆಂಟ್ ಸಿಗಲಿಲ್ಲ.",
		msgCancelConfirm:            "%s ಅವರ %s ರ %s ಅಪಾಯಿಂಟ್ಮೆಂಟ್ ರದ್ದುಗೊಳಿಸುವುದೇ?",
		msgCancelled:                "ನಿಮ್ಮ ಅಪಾಯಿಂಟ್ಮೆಂಟ್ ರದ್ದುಗೊಳಿಸಲಾಗಿದೆ.",
		msgCancelKept:               "ಸರಿ, ನಿಮ್ಮ ಅಪಾಯಿಂಟ್ಮೆಂಟ್ ಉಳಿಸಲಾಗಿದೆ.",
		msgApology:                  "ಕ್ಷಮಿಸಿ, ಏನೋ ತಪ್ಪಾಗಿದೆ. ದಯವಿಟ್ಟು ಮತ್ತೆ ಪ್ರಯತ್ನಿಸಿ.",
		msgPressDigit:               "%s ಗಾಗಿ %s ಒತ್ತಿ.",
		msgSessionExpired:           "ಅವಧಿ ಮುಗಿದಿದೆ. ದಯವಿಟ್ಟು ಮತ್ತೆ ಕರೆ ಮಾಡಿ.",
		msgNoInput:                  "ಯಾವುದೇ ಇನ್‌ಪುಟ್ ಸಿಗಲಿಲ್ಲ. ವಿದಾಯ.",
		msgLineUnavailable:          "ಕ್ಷಮಿಸಿ, ನಮ್ಮ ಬುಕಿಂಗ್ ಲೈನ್ ಈಗ ಲಭ್ಯವಿಲ್ಲ. ದಯವಿಟ್ಟು ಕೆಲವು ನಿಮಿಷಗಳ ನಂತರ ಮತ್ತೆ ಕರೆ ಮಾಡಿ.",
		msgTextOnly:                 "ಕ್ಷಮಿಸಿ, ನಾನು ಪಠ್ಯ ಸಂದೇಶಗಳನ್ನು ಮಾತ್ರ ಓದಬಲ್ಲೆ. ದಯವಿಟ್ಟು ಪಠ್ಯ ಸಂದೇಶ ಕಳುಹಿಸಿ.",
		msgReminder:                 "ನಮಸ್ತೆ %s,\n\nನಿಮ್ಮ ಅಪಾಯಿಂಟ್ಮೆಂಟ್ %s ರಂದು %s ಕ್ಕೆ ಇದೆ.\n\nಧನ್ಯವಾದಗಳು!",
	},
}

// msg formats key in lang, falling back to English for missing entries.
func msg(lang session.Language, key msgKey, args ...any) string {
	format, ok := catalog[lang.OrDefault()][key]
	if !ok {
		format = catalog[session.LanguageEnglish][key]
	}
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}

func languageChoices() []Choice {
	return []Choice{
		{ID: ChoiceEnglish, Title: "English", Digit: "1"},
		{ID: ChoiceKannada, Title: "ಕನ್ನಡ", Digit: "2"},
	}
}

func menuChoices(lang session.Language) []Choice {
	if lang == session.LanguageKannada {
		return []Choice{
			{ID: ChoiceBook, Title: "ಬುಕ್ ಮಾಡಿ", Digit: "1"},
			{ID: ChoiceCancel, Title: "ರದ್ದುಗೊಳಿಸಿ", Digit: "2"},
			{ID: ChoiceChangeLanguage, Title: "Change Language", Digit: "3"},
		}
	}
	return []Choice{
		{ID: ChoiceBook, Title: "Book Appointment", Digit: "1"},
		{ID: ChoiceCancel, Title: "Cancel Appointment", Digit: "2"},
		{ID: ChoiceChangeLanguage, Title: "ಭಾಷೆ ಬದಲಿಸಿ", Digit: "3"},
	}
}

func confirmChoices(lang session.Language) []Choice {
	if lang == session.LanguageKannada {
		return []Choice{
			{ID: ChoiceYes, Title: "ದೃಢೀಕರಿಸಿ", Digit: "1"},
			{ID: ChoiceNo, Title: "ಬೇಡ", Digit: "2"},
		}
	}
	return []Choice{
		{ID: ChoiceYes, Title: "Confirm", Digit: "1"},
		{ID: ChoiceNo, Title: "No", Digit: "2"},
	}
}

// SpokenPrompt renders a prompt for text-to-speech, reading choices as keypad options.
func SpokenPrompt(p Prompt) string {
	if p.Kind != PromptChoices || len(p.Choices) == 0 {
		return p.Text
	}
	var b strings.Builder
	b.WriteString(p.Text)
	for _, c := range p.Choices {
		if c.Digit == "" {
			continue
		}
		b.WriteString(" ")
		b.WriteString(msg(p.Language, msgPressDigit, c.Title, c.Digit))
	}
	return b.String()
}

// SessionExpiredText is spoken when a voice callback arrives without a live session.
func SessionExpiredText(lang session.Language) string {
	return msg(lang, msgSessionExpired)
}

// NoInputText is spoken when the caller does not respond to a gather.
func NoInputText(lang session.Language) string {
	return msg(lang, msgNoInput)
}

// ClinicNotFoundText is spoken when the dialled number maps to no clinic.
func ClinicNotFoundText() string {
	return msg(session.LanguageEnglish, msgClinicNotFound)
}

// LineUnavailableText is spoken when the booking service cannot be reached.
func LineUnavailableText(lang session.Language) string {
	return msg(lang, msgLineUnavailable)
}

// TextOnlyText answers unsupported chat message types.
func TextOnlyText(lang session.Language) string {
	return msg(lang, msgTextOnly)
}

// ReminderText is the body of an appointment reminder.
func ReminderText(lang session.Language, name, date, clock string) string {
	return msg(lang, msgReminder, name, date, clock)
}

// ConfirmationText is the booking confirmation sent outside the chat thread.
func ConfirmationText(lang session.Language, date, clock, ref string) string {
	return msg(lang, msgBookedVoice, date, clock, ref)
}

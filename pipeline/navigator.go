package pipeline

// Navigator sends the user back to the login entry point after the session has been destroyed.
type Navigator interface {
	RedirectToLogin()
}

// NavigatorFunc adapts a plain function to Navigator.
type NavigatorFunc func()

func (f NavigatorFunc) RedirectToLogin() {
	f()
}

type noopNavigator struct{}

func (noopNavigator) RedirectToLogin() {}

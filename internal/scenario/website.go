package scenario

import (
	"net/http"
	"time"
)

var (
	Login   = Action{Name: "login", Method: http.MethodGet, Path: "/login.html"}
	Logout  = Action{Name: "logout", Method: http.MethodGet, Path: "/logout.html"}
	Index   = Action{Name: "index", Method: http.MethodGet, Path: "/"}
	Profile = Action{Name: "profile", Method: http.MethodGet, Path: "/profile.html"}
)

const (
	WebsiteMinWait = 500 * time.Millisecond
	WebsiteMaxWait = 2000 * time.Millisecond
)

// Website is the browsing user for the robby site: log in, hit the index
// twice as often as the profile page, log out.
func Website() Descriptor {
	return Descriptor{
		Name: "WebsiteUser",
		Tasks: []WeightedAction{
			{Action: Index, Weight: 2},
			{Action: Profile, Weight: 1},
		},
		MinWait: WebsiteMinWait,
		MaxWait: WebsiteMaxWait,
		OnStart: Login,
		OnStop:  Logout,
	}
}

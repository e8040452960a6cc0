package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/docopt/docopt-go"
	"golang.org/x/term"

	"github.com/mnagatsuka/next-fastapi-note-app/notes"
)

const NotesCtlVersion = "0.0.1"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := `Notes platform control.

The default urls come from NOTES_API_URL and NOTES_WS_URL:
    api_url: http://localhost:8000
    ws_url: ws://localhost:3001

The identity token can be given with --jwt, the NOTES_JWT environment
variable, or entered at the prompt.

Usage:
    notesctl login [--api_url=<api_url>] [--jwt=<jwt>]
    notesctl anonymous-login [--api_url=<api_url>] [--jwt=<jwt>]
    notesctl list [--api_url=<api_url>] [--jwt=<jwt>]
        [--page=<page>] [--limit=<limit>] [--public]
    notesctl show <note_id> [--api_url=<api_url>] [--jwt=<jwt>] [--public]
    notesctl create [--api_url=<api_url>] [--jwt=<jwt>]
        [--title=<title>] <content>
    notesctl edit <note_id> [--api_url=<api_url>] [--jwt=<jwt>]
        [--title=<title>] <content>
    notesctl delete <note_id> [--api_url=<api_url>] [--jwt=<jwt>]
    notesctl publish <note_id> [--api_url=<api_url>] [--jwt=<jwt>]
    notesctl unpublish <note_id> [--api_url=<api_url>] [--jwt=<jwt>]
    notesctl comments <note_id> [--api_url=<api_url>] [--jwt=<jwt>] [--private]
    notesctl comment <note_id> [--api_url=<api_url>] [--jwt=<jwt>]
        [--private] <content>
    notesctl watch <note_id> [--ws_url=<ws_url>] [--api_url=<api_url>]
        [--jwt=<jwt>] [--private]
    notesctl profile [--api_url=<api_url>] [--jwt=<jwt>]
    notesctl set-profile [--api_url=<api_url>] [--jwt=<jwt>]
        [--display_name=<name>] [--avatar_url=<avatar_url>]

Options:
    -h --help                    Show this screen.
    --version                    Show version.
    --api_url=<api_url>
    --ws_url=<ws_url>
    --jwt=<jwt>                  Your identity token.
    --page=<page>
    --limit=<limit>
    --public                     Use the public namespace.
    --private                    Use the private namespace.
    --title=<title>
    --display_name=<name>
    --avatar_url=<avatar_url>`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], NotesCtlVersion)
	if err != nil {
		panic(err)
	}

	if login_, _ := opts.Bool("login"); login_ {
		login(opts, false)
	} else if anonymousLogin_, _ := opts.Bool("anonymous-login"); anonymousLogin_ {
		login(opts, true)
	} else if list_, _ := opts.Bool("list"); list_ {
		list(opts)
	} else if show_, _ := opts.Bool("show"); show_ {
		show(opts)
	} else if create_, _ := opts.Bool("create"); create_ {
		create(opts)
	} else if edit_, _ := opts.Bool("edit"); edit_ {
		edit(opts)
	} else if delete_, _ := opts.Bool("delete"); delete_ {
		deleteNote(opts)
	} else if publish_, _ := opts.Bool("publish"); publish_ {
		setVisibility(opts, true)
	} else if unpublish_, _ := opts.Bool("unpublish"); unpublish_ {
		setVisibility(opts, false)
	} else if comments_, _ := opts.Bool("comments"); comments_ {
		comments(opts)
	} else if comment_, _ := opts.Bool("comment"); comment_ {
		comment(opts)
	} else if watch_, _ := opts.Bool("watch"); watch_ {
		watch(opts)
	} else if profile_, _ := opts.Bool("profile"); profile_ {
		profile(opts)
	} else if setProfile_, _ := opts.Bool("set-profile"); setProfile_ {
		setProfile(opts)
	}
}

func settings() *notes.ClientSettings {
	clientSettings, err := notes.LoadClientSettings()
	if err != nil {
		Err.Fatalf("Bad settings: %s", err)
	}
	return clientSettings
}

func api(opts docopt.Opts) *notes.NotesApi {
	clientSettings := settings()
	apiUrl := clientSettings.ApiUrl
	if optApiUrl, err := opts.String("--api_url"); err == nil && optApiUrl != "" {
		apiUrl = optApiUrl
	}
	notesApi := notes.NewNotesApiWithContext(context.Background(), apiUrl, clientSettings.ApiTimeout)
	notesApi.SetBearerJwt(jwt(opts))
	return notesApi
}

func jwt(opts docopt.Opts) string {
	if optJwt, err := opts.String("--jwt"); err == nil && optJwt != "" {
		return optJwt
	}
	if envJwt := os.Getenv("NOTES_JWT"); envJwt != "" {
		return envJwt
	}
	if term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprint(os.Stderr, "Token: ")
		tokenBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err == nil {
			return string(tokenBytes)
		}
	}
	return ""
}

func login(opts docopt.Opts, anonymous bool) {
	notesApi := api(opts)
	var session *notes.AuthSessionResult
	var err error
	if anonymous {
		session, err = notesApi.AuthAnonymousLoginSync()
	} else {
		session, err = notesApi.AuthLoginSync()
	}
	if err != nil {
		Err.Fatalf("Login error: %s", err)
	}
	Out.Printf("%s (%s) anonymous=%t", session.Username, session.UserId, session.IsAnonymous)
}

func list(opts docopt.Opts) {
	notesApi := api(opts)
	page := optInt(opts, "--page", notes.DefaultPage)
	limit := optInt(opts, "--limit", notes.DefaultLimit)

	var notesPage *notes.NotesPage
	var err error
	if public_, _ := opts.Bool("--public"); public_ {
		notesPage, err = notesApi.GetPublicNotesSync(page, limit)
	} else {
		notesPage, err = notesApi.GetMyNotesSync(page, limit)
	}
	if err != nil {
		Err.Fatalf("List error: %s", err)
	}
	for _, note := range notesPage.Notes {
		visibility := "private"
		if note.IsPublic {
			visibility = "public"
		}
		Out.Printf("%s  %-8s  %s", note.Id, visibility, note.Title)
	}
	Out.Printf("page %d of %d notes", notesPage.Pagination.Page, notesPage.Pagination.Total)
}

func show(opts docopt.Opts) {
	notesApi := api(opts)
	noteId, _ := opts.String("<note_id>")

	var note *notes.Note
	var err error
	if public_, _ := opts.Bool("--public"); public_ {
		note, err = notesApi.GetPublicNoteSync(noteId)
	} else {
		note, err = notesApi.GetMyNoteSync(noteId)
	}
	if err != nil {
		Err.Fatalf("Show error: %s", err)
	}
	if note.Title != "" {
		Out.Printf("# %s", note.Title)
	}
	Out.Printf("%s", note.Content)
	if note.Author != nil {
		Out.Printf("-- %s", note.Author.DisplayName)
	}
}

func create(opts docopt.Opts) {
	notesApi := api(opts)
	title, _ := opts.String("--title")
	content, _ := opts.String("<content>")

	note, err := notesApi.CreateNoteSync(&notes.CreateNoteArgs{
		Title:   title,
		Content: content,
	})
	if err != nil {
		Err.Fatalf("Create error: %s", err)
	}
	Out.Printf("%s", note.Id)
}

func edit(opts docopt.Opts) {
	notesApi := api(opts)
	noteId, _ := opts.String("<note_id>")
	title, _ := opts.String("--title")
	content, _ := opts.String("<content>")

	note, err := notesApi.UpdateNoteSync(noteId, &notes.UpdateNoteArgs{
		Title:   title,
		Content: content,
	})
	if err != nil {
		Err.Fatalf("Edit error: %s", err)
	}
	Out.Printf("%s updated %s", note.Id, note.UpdatedAt)
}

func deleteNote(opts docopt.Opts) {
	notesApi := api(opts)
	noteId, _ := opts.String("<note_id>")

	if err := notesApi.DeleteNoteSync(noteId); err != nil {
		Err.Fatalf("Delete error: %s", err)
	}
	Out.Printf("%s deleted", noteId)
}

func setVisibility(opts docopt.Opts, public bool) {
	notesApi := api(opts)
	noteId, _ := opts.String("<note_id>")

	store := notes.NewCacheStore(context.Background())
	coordinator := notes.NewMutationCoordinator(store, notesApi)

	var note *notes.Note
	var err error
	if public {
		note, err = coordinator.PublishNote(noteId)
	} else {
		note, err = coordinator.UnpublishNote(noteId)
	}
	if err != nil {
		Err.Fatalf("Visibility error: %s", err)
	}
	if note.PublishedAt != nil {
		Out.Printf("%s public since %s", note.Id, note.PublishedAt)
	} else {
		Out.Printf("%s private", note.Id)
	}
}

func noteKind(opts docopt.Opts) notes.NoteKind {
	if private_, _ := opts.Bool("--private"); private_ {
		return notes.NoteKindPrivate
	}
	return notes.NoteKindPublic
}

func comments(opts docopt.Opts) {
	notesApi := api(opts)
	noteId, _ := opts.String("<note_id>")

	commentsPage, err := notesApi.GetNoteCommentsSync(noteId, noteKind(opts))
	if err != nil {
		Err.Fatalf("Comments error: %s", err)
	}
	for _, comment := range commentsPage.Comments {
		Out.Printf("[%s] %s: %s", comment.CreatedAt.Format("2006-01-02 15:04"), comment.Username, comment.Content)
	}
	Out.Printf("%d comments", commentsPage.Count)
}

func comment(opts docopt.Opts) {
	notesApi := api(opts)
	noteId, _ := opts.String("<note_id>")
	content, _ := opts.String("<content>")

	created, err := notesApi.CreateCommentSync(noteId, noteKind(opts), &notes.CreateCommentArgs{
		Content: content,
	})
	if err != nil {
		Err.Fatalf("Comment error: %s", err)
	}
	Out.Printf("%s", created.Id)
}

func watch(opts docopt.Opts) {
	clientSettings := settings()
	notesApi := api(opts)
	noteId, _ := opts.String("<note_id>")
	kind := noteKind(opts)

	wsUrl := clientSettings.WsUrl
	if optWsUrl, err := opts.String("--ws_url"); err == nil && optWsUrl != "" {
		wsUrl = optWsUrl
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := notes.NewCacheStore(ctx)

	channelSettings := notes.DefaultRealtimeChannelSettings()
	channelSettings.MaxReconnectAttempts = clientSettings.MaxReconnectAttempts
	channelSettings.ReconnectTimeout = clientSettings.ReconnectTimeout
	channel := notes.NewRealtimeChannel(ctx, wsUrl, channelSettings)
	defer channel.Close()

	unsubStatus := channel.AddStatusCallback(func(status notes.ConnectionStatus) {
		Err.Printf("realtime %s", status)
	})
	defer unsubStatus()

	commentSync := notes.NewCommentSync(store, channel, noteId, kind)
	defer commentSync.Close()

	key := notes.NoteCommentsKey(noteId, kind)
	seen := 0
	unsubObserve := store.Observe(key,
		func(fetchCtx context.Context) (any, error) {
			return notesApi.GetNoteCommentsSync(noteId, kind)
		},
		func(value any, err error) {
			if err != nil {
				Err.Printf("fetch error: %s", err)
				return
			}
			commentsPage, ok := value.(*notes.CommentsPage)
			if !ok {
				return
			}
			seen = printNewComments(commentsPage, seen)
		},
	)
	defer unsubObserve()

	channel.Connect()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	channel.Disconnect()
}

// printNewComments prints the comments past the already-printed count and
// returns the new count. A realtime snapshot can replace the list with a
// shorter one, so the count clamps before slicing.
func printNewComments(commentsPage *notes.CommentsPage, seen int) int {
	if len(commentsPage.Comments) < seen {
		seen = len(commentsPage.Comments)
	}
	for _, comment := range commentsPage.Comments[seen:] {
		Out.Printf("[%s] %s: %s", comment.CreatedAt.Format("15:04:05"), comment.Username, comment.Content)
	}
	return len(commentsPage.Comments)
}

func profile(opts docopt.Opts) {
	notesApi := api(opts)

	userProfile, err := notesApi.GetProfileSync()
	if err != nil {
		Err.Fatalf("Profile error: %s", err)
	}
	Out.Printf("%s (%s) anonymous=%t", userProfile.DisplayName, userProfile.Id, userProfile.IsAnonymous)
}

func setProfile(opts docopt.Opts) {
	notesApi := api(opts)
	displayName, _ := opts.String("--display_name")
	avatarUrl, _ := opts.String("--avatar_url")

	userProfile, err := notesApi.UpdateProfileSync(&notes.UpdateProfileArgs{
		DisplayName: displayName,
		AvatarUrl:   avatarUrl,
	})
	if err != nil {
		Err.Fatalf("Set profile error: %s", err)
	}
	Out.Printf("%s updated", userProfile.Id)
}

func optInt(opts docopt.Opts, name string, defaultValue int) int {
	if str, err := opts.String(name); err == nil && str != "" {
		if value, err := strconv.Atoi(str); err == nil {
			return value
		}
	}
	return defaultValue
}

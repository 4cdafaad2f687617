/******************************************************************************
 *
 *  Description :
 *    Setup & initialization.
 *
 *****************************************************************************/

package main

import (
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"runtime"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	jcr "github.com/tinode/jsonco"

	"github.com/banter-chat/banter/server/broadcast"
	"github.com/banter-chat/banter/server/chat"
	"github.com/banter-chat/banter/server/logs"
	"github.com/banter-chat/banter/server/pubsub"
	"github.com/banter-chat/banter/server/store"

	_ "github.com/banter-chat/banter/server/db/mysql"
	_ "github.com/banter-chat/banter/server/db/postgres"
	_ "github.com/banter-chat/banter/server/pubsub/amqp"
	_ "github.com/banter-chat/banter/server/pubsub/nats"
	_ "github.com/banter-chat/banter/server/pubsub/redis"
)

const (
	// currentVersion is the API and server version.
	currentVersion = "0.1"

	// apiPrefix is the root of the HTTP API.
	apiPrefix = "/chat/v1"

	defaultMaxMessageSize = 1 << 17 // 128K
)

// Build timestamp set by the compiler.
var buildstamp = "undef"

var globals struct {
	sessionStore *SessionStore
	chatSvc      *chat.Service
	bcast        *broadcast.Broadcaster

	apiKeySalt []byte
	// Maximum message size allowed from peer.
	maxMessageSize int64

	// Strict-Transport-Security max age, in seconds, as a string.
	tlsStrictMaxAge string

	statsUpdate chan *varUpdate
}

type configType struct {
	// HTTP(S) address:port to listen on.
	Listen string `json:"listen"`
	// URL path for exposing runtime stats. Disabled if the path is blank or "-".
	ExpvarPath string `json:"expvar"`
	// Salt used to validate API keys.
	APIKeySalt []byte `json:"api_key_salt"`
	// Maximum message size allowed from client, in bytes.
	MaxMessageSize int64 `json:"max_message_size"`

	// Number of posts in a default post-stream page.
	PageSize int `json:"page_size"`
	// Minimum acceptable topic title length, in runes.
	MinTitleLength int `json:"min_title_length"`
	// Host user id which owns explicitly created topics.
	SystemUserId int64 `json:"system_user_id"`
	// Host group granted access when a group topic is saved with no groups.
	DefaultGroupId int64 `json:"default_group_id"`

	// Snowflake worker id, 0-1023.
	WorkerID int `json:"worker_id"`

	StoreConfig  json.RawMessage `json:"store_config"`
	PubsubConfig json.RawMessage `json:"pubsub_config"`
	TlsConfig    json.RawMessage `json:"tls"`
}

func main() {
	logs.Init(os.Stderr)
	logs.Info.Printf("Server v%s:%s pid=%d started with processes: %d", currentVersion, buildstamp,
		os.Getpid(), runtime.GOMAXPROCS(runtime.NumCPU()))

	configfile := flag.String("config", "./banter.conf", "Path to config file.")
	listenOn := flag.String("listen", "", "Override address and port to listen on.")
	initDb := flag.Bool("init_db", false, "Create the database schema and exit.")
	resetDb := flag.Bool("reset_db", false, "Drop the existing schema before creating it. Requires -init_db.")
	flag.Parse()

	logs.Info.Printf("Using config from '%s'", *configfile)

	var config configType
	if file, err := os.Open(*configfile); err != nil {
		logs.Error.Fatalln("Failed to read config file:", err)
	} else {
		jr := jcr.New(file)
		if err = json.NewDecoder(jr).Decode(&config); err != nil {
			switch jerr := err.(type) {
			case *json.UnmarshalTypeError:
				lnum, cnum, _ := jr.LineAndChar(jerr.Offset)
				logs.Error.Fatalf("Unmarshall error in config file in %s at %d:%d (offset %d bytes): %s",
					jerr.Field, lnum, cnum, jerr.Offset, jerr.Error())
			case *json.SyntaxError:
				lnum, cnum, _ := jr.LineAndChar(jerr.Offset)
				logs.Error.Fatalf("Syntax error in config file at %d:%d (offset %d bytes): %s",
					lnum, cnum, jerr.Offset, jerr.Error())
			default:
				logs.Error.Fatalln("Failed to parse config file:", err)
			}
		}
		file.Close()
	}

	if *listenOn != "" {
		config.Listen = *listenOn
	}

	if *initDb {
		if err := store.Store.InitDb(config.StoreConfig, *resetDb); err != nil {
			logs.Error.Fatalln("Failed to initialize database:", err)
		}
		logs.Info.Println("Database initialized")
		return
	}

	if err := store.Store.Open(config.WorkerID, config.StoreConfig); err != nil {
		logs.Error.Fatalln("Failed to connect to DB:", err)
	}
	logs.Info.Println("DB adapter:", store.Store.GetAdapterName())

	if err := pubsub.Open(config.PubsubConfig); err != nil {
		logs.Error.Fatalln("Failed to connect to pub/sub broker:", err)
	}
	logs.Info.Println("Pub/sub transport:", pubsub.Get().GetName())

	globals.apiKeySalt = config.APIKeySalt
	globals.maxMessageSize = config.MaxMessageSize
	if globals.maxMessageSize <= 0 {
		globals.maxMessageSize = defaultMaxMessageSize
	}

	globals.bcast = broadcast.New(pubsub.Get())
	globals.chatSvc = chat.NewService(chat.Config{
		PageSize:       config.PageSize,
		MinTitleLength: config.MinTitleLength,
		SystemUser:     store.EncodeUid(config.SystemUserId),
		DefaultGroup:   store.EncodeUid(config.DefaultGroupId),
	}, globals.bcast)
	globals.sessionStore = NewSessionStore()

	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(serve404)

	api := router.PathPrefix(apiPrefix).Subrouter()
	api.HandleFunc("/topics", withAuth(hdlTopicsList)).Methods(http.MethodGet)
	api.HandleFunc("/topics", withAuth(hdlTopicCreate)).Methods(http.MethodPost)
	api.HandleFunc("/topics/{topic}", withAuth(hdlTopicShow)).Methods(http.MethodGet)
	api.HandleFunc("/topics/{topic}", withAuth(hdlTopicUpdate)).Methods(http.MethodPut)
	api.HandleFunc("/topics/{topic}", withAuth(hdlTopicDestroy)).Methods(http.MethodDelete)
	api.HandleFunc("/topics/{topic}/groups", withAuth(hdlTopicGroups)).Methods(http.MethodGet)
	api.HandleFunc("/topics/{topic}/read/{seq}", withAuth(hdlTopicRead)).Methods(http.MethodPut, http.MethodPost)
	api.HandleFunc("/topics/{topic}/online", withAuth(hdlTopicOnline)).Methods(http.MethodPost)
	api.HandleFunc("/topics/{topic}/typing", withAuth(hdlTopicTyping)).Methods(http.MethodPost)
	api.HandleFunc("/topics/{topic}/posts", withAuth(hdlPostCreate)).Methods(http.MethodPost)
	api.HandleFunc("/topics/{topic}/posts/{post}", withAuth(hdlPostUpdate)).Methods(http.MethodPut)
	api.HandleFunc("/topics/{topic}/posts/{post}", withAuth(hdlPostDestroy)).Methods(http.MethodDelete)
	api.HandleFunc("/pm/{user}", withAuth(hdlDirectTopic)).Methods(http.MethodGet)
	api.HandleFunc("/channels", withAuth(serveWebSocket)).Methods(http.MethodGet)

	statsInit(router, config.ExpvarPath)

	handler := handlers.CORS(
		handlers.AllowedHeaders([]string{"Content-Type", "X-Banter-User", "X-Banter-APIKey"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete}),
	)(hstsHandler(router))
	handler = handlers.CombinedLoggingHandler(os.Stdout, handler)

	if err := listenAndServe(handler, config.Listen, config.TlsConfig, signalHandler()); err != nil {
		logs.Error.Fatal(err)
	}
	logs.Info.Println("All done, good bye")
}

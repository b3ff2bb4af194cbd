package server

import (
	"errors"
	"time"

	"eggdash/config"
	"eggdash/dashboard"
	"eggdash/models"
	"eggdash/session"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/encryptcookie"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	fibersession "github.com/gofiber/fiber/v2/middleware/session"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

const sessionCookie = "eggdash_session"

type ServerConfig struct {
	Config config.Config

	// The service answering all dashboard operations
	Service *dashboard.Service
}

// Returns a fiber.App instance serving the egg dashboard
func Server(cfg *ServerConfig) *fiber.App {
	svc := cfg.Service

	app := fiber.New(fiber.Config{
		AppName:               "eggdash",
		DisableStartupMessage: true,
	})

	// Middleware to track the latency of each request
	app.Use(func(c *fiber.Ctx) error {
		// start timer
		start := time.Now()

		// next routes
		err := c.Next()

		// stop timer
		stop := time.Now()

		log.WithFields(log.Fields{
			"method":  c.Method(),
			"route":   c.Route().Path,
			"status":  c.Response().StatusCode(),
			"latency": stop.Sub(start),
		}).Info("Request")
		return err
	})

	app.Use(requestid.New(requestid.ConfigDefault))
	app.Use(compress.New())

	// Session cookies carry the egg credential, keep them unreadable
	app.Use(encryptcookie.New(encryptcookie.Config{
		Key: cfg.Config.SessionKey,
	}))

	sessions := fibersession.New(fibersession.Config{
		Expiration:     24 * time.Hour,
		KeyLookup:      "cookie:" + sessionCookie,
		KeyGenerator:   uuid.NewString,
		CookieHTTPOnly: true,
		CookieSameSite: fiber.CookieSameSiteLaxMode,
		CookieSecure:   !cfg.Config.Development(),
	})

	// Home page data, shows a pending error message once
	app.Get("/", func(c *fiber.Ctx) error {
		sess, err := sessions.Get(c)
		if err != nil {
			return err
		}
		message := session.PopFlash(sess)
		if err := sess.Save(); err != nil {
			return err
		}
		return c.JSON(fiber.Map{
			"error": message,
		})
	})

	// Endpoint used by home page
	app.Get("/all_feeds.json", func(c *fiber.Ctx) error {
		payload, err := svc.AllFeeds(c.UserContext())
		if err != nil {
			return respondWithError(c, err)
		}
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.Send(payload)
	})

	app.Get("/recently_:order.json", func(c *fiber.Ctx) error {
		payload, err := svc.Recent(c.UserContext(), c.Params("order"))
		if err != nil {
			return respondWithError(c, err)
		}
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.Send(payload)
	})

	// View egg dashboard
	app.Get("/egg/:id", func(c *fiber.Ctx) error {
		detail, err := svc.Feed(c.UserContext(), c.Params("id"))
		if err != nil {
			return respondWithError(c, err)
		}
		return c.JSON(detail)
	})

	// Edit egg metadata
	app.Get("/egg/:id/edit", func(c *fiber.Ctx) error {
		sess, err := sessions.Get(c)
		if err != nil {
			return err
		}
		feed, err := svc.EditFeed(c.UserContext(), sess, c.Params("id"))
		if err != nil {
			return redirectWithError(c, sess, err, "Egg not found")
		}
		return c.JSON(feed)
	})

	// Register your egg
	app.Post("/register", func(c *fiber.Ctx) error {
		sess, err := sessions.Get(c)
		if err != nil {
			return err
		}
		feedId, err := svc.Register(c.UserContext(), sess, c.FormValue("serial"))
		if err != nil {
			return redirectWithError(c, sess, err, "Egg not found")
		}
		// New credential, new session id
		if err := sess.Regenerate(); err != nil {
			return err
		}
		if err := sess.Save(); err != nil {
			return err
		}
		return c.Redirect(eggPath(feedId)+"/edit", fiber.StatusSeeOther)
	})

	// Update egg metadata
	app.Post("/egg/:id/update", func(c *fiber.Ctx) error {
		sess, err := sessions.Get(c)
		if err != nil {
			return err
		}

		update, err := parseFeedUpdate(c)
		if err != nil {
			return redirectWithError(c, sess, err, "Could not update egg")
		}

		feedId, err := svc.Update(c.UserContext(), sess, c.Params("id"), update)
		if err != nil {
			return redirectWithError(c, sess, err, "Could not update egg")
		}
		return c.Redirect(eggPath(feedId), fiber.StatusSeeOther)
	})

	app.Get("/cache/flush", func(c *fiber.Ctx) error {
		if cfg.Config.FlushToken != "" && c.Query("token") != cfg.Config.FlushToken {
			return respondWithAPIError(c, NewAPIError(ErrorCodeForbidden, "Invalid flush token", fiber.StatusForbidden))
		}
		status, err := svc.Flush(c.UserContext())
		if err != nil {
			return respondWithError(c, err)
		}
		return c.SendString(status)
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	return app
}

func parseFeedUpdate(c *fiber.Ctx) (models.FeedUpdate, error) {
	update := models.FeedUpdate{
		Title:        c.FormValue("title"),
		Description:  c.FormValue("description"),
		Exposure:     c.FormValue("location_exposure"),
		ExistingTags: c.FormValue("existing_tags"),
	}

	var err error
	if update.Lat, err = dashboard.ParseCoordinate("Latitude", c.FormValue("location_lat"), dashboard.LatitudeLimit); err != nil {
		return update, err
	}
	if update.Lon, err = dashboard.ParseCoordinate("Longitude", c.FormValue("location_lon"), dashboard.LongitudeLimit); err != nil {
		return update, err
	}
	if update.Elevation, err = dashboard.ParseCoordinate("Elevation", c.FormValue("location_ele"), dashboard.NoLimit); err != nil {
		return update, err
	}
	return update, nil
}

// redirectWithError stores a one line message for the home page and sends
// the user there
func redirectWithError(c *fiber.Ctx, sess *fibersession.Session, err error, fallback string) error {
	message := userMessage(err, fallback)
	log.WithFields(log.Fields{
		"path":    c.Path(),
		"message": message,
		"error":   err,
	}).Warn("Redirecting with error")

	session.SetFlash(sess, message)
	if err := sess.Save(); err != nil {
		return err
	}
	return c.Redirect("/", fiber.StatusSeeOther)
}

func userMessage(err error, fallback string) string {
	var validation *dashboard.ValidationError
	switch {
	case errors.As(err, &validation):
		return validation.Message
	case errors.Is(err, session.ErrNotOwner):
		return "Not your egg"
	case errors.Is(err, session.ErrCredentialMissing), errors.Is(err, dashboard.ErrEggNotFound):
		return "Egg not found"
	default:
		return fallback
	}
}
